// Package sensor acquires DS18B20 temperatures from the Linux 1-wire sysfs
// interface and hands them to the control loop as named readings in °F.
package sensor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// DS18B20 family prefix on the w1 bus.
const familyDS18B20 = "28-"

// powerOnMilliC is the value a DS18B20 reports before its first conversion.
const powerOnMilliC = 85000

// maxConsecutiveErrors is when a failing device is logged as faulted.
const maxConsecutiveErrors = 4

var (
	ErrCRC     = errors.New("crc check failed")
	ErrPowerOn = errors.New("power-on reset value")
	ErrFormat  = errors.New("malformed w1_slave data")
)

// Reading is one sensor sample. Value is °F and meaningful only when Err is
// nil.
type Reading struct {
	Name  string
	Value float64
	Err   error
}

// Valid reports whether the reading can be used for control decisions.
func (r Reading) Valid() bool { return r.Err == nil }

// Reader produces a batch of readings.
type Reader interface {
	ReadAll() []Reading
}

// Bus reads the configured DS18B20 devices from a w1 sysfs directory.
type Bus struct {
	dir     string
	devices map[string]string // device id -> sensor name
	faults  map[string]int
	log     *logrus.Entry
}

// NewBus creates a Bus. devices maps 1-wire ids to sensor names.
func NewBus(dir string, devices map[string]string, log *logrus.Entry) *Bus {
	return &Bus{
		dir:     dir,
		devices: devices,
		faults:  map[string]int{},
		log:     log,
	}
}

// Discover lists the DS18B20 ids currently present on the bus.
func (b *Bus) Discover() ([]string, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", b.dir, err)
	}
	var ids []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), familyDS18B20) {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Names returns the configured sensor names in device-id order.
func (b *Bus) Names() []string {
	ids := make([]string, 0, len(b.devices))
	for id := range b.devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		names = append(names, b.devices[id])
	}
	return names
}

// ReadAll samples every configured device. A device that cannot be read
// yields a Reading with Err set rather than being skipped.
func (b *Bus) ReadAll() []Reading {
	ids := make([]string, 0, len(b.devices))
	for id := range b.devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]Reading, 0, len(ids))
	for _, id := range ids {
		name := b.devices[id]
		c, err := ReadDevice(filepath.Join(b.dir, id, "w1_slave"))
		if err != nil {
			b.faults[id]++
			if b.faults[id] == maxConsecutiveErrors {
				b.log.WithFields(logrus.Fields{"sensor": name, "device": id}).WithError(err).Warn("too many consecutive read errors")
			}
			out = append(out, Reading{Name: name, Err: err})
			continue
		}
		if b.faults[id] >= maxConsecutiveErrors {
			b.log.WithFields(logrus.Fields{"sensor": name, "device": id}).Info("sensor recovered")
		}
		b.faults[id] = 0
		out = append(out, Reading{Name: name, Value: CelsiusToFahrenheit(c)})
	}
	return out
}

// ReadDevice reads and parses one w1_slave file, returning °C.
func ReadDevice(path string) (float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return ParseW1Slave(data)
}

// ParseW1Slave parses the two-line w1_slave format:
//
//	72 01 4b 46 7f ff 0e 10 57 : crc=57 YES
//	72 01 4b 46 7f ff 0e 10 57 t=23125
func ParseW1Slave(data []byte) (float64, error) {
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) < 2 {
		return 0, ErrFormat
	}
	if !strings.HasSuffix(strings.TrimSpace(lines[0]), "YES") {
		return 0, ErrCRC
	}
	i := strings.LastIndex(lines[1], "t=")
	if i < 0 {
		return 0, ErrFormat
	}
	milli, err := strconv.Atoi(strings.TrimSpace(lines[1][i+2:]))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if milli == powerOnMilliC {
		return 0, ErrPowerOn
	}
	return float64(milli) / 1000, nil
}

// CelsiusToFahrenheit converts °C to °F.
func CelsiusToFahrenheit(c float64) float64 {
	return c*9/5 + 32
}

// Poll reads r every interval and sends each batch to out until ctx is
// done. A slow consumer drops batches rather than stalling the bus.
func Poll(ctx context.Context, r Reader, interval time.Duration, out chan<- []Reading) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	send := func() {
		select {
		case out <- r.ReadAll():
		default:
		}
	}
	send()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			send()
		}
	}
}
