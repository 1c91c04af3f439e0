package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/heatpump-controller/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"onOff": func(b bool) string {
		if b {
			return "ON"
		}
		return "OFF"
	},
	"minutes": func(ms uint64) string {
		return fmt.Sprintf("%.1f min", float64(ms)/60000)
	},
	"stateOrUnknown": func(s string) string {
		if s == "" {
			return "UNKNOWN"
		}
		return s
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Heat Pump Controller</title>
<style>
body { font-family: monospace; max-width: 640px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.fault { color: red; font-weight: bold; }
.connected { color: green; }
.disconnected { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; background: orange; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
button { font-family: monospace; margin: 2px; }
</style>
</head>
<body>
<h1>Heat Pump Controller<span id="live-dot" class="live-dot" title="connecting"></span></h1>

<h2>State</h2>
<table>
<tr><th>Mode</th><td id="state">{{if .Started}}{{stateOrUnknown (printf "%s" .Telemetry.State)}}{{else}}UNKNOWN{{end}}</td></tr>
<tr><th>Defrost</th><td id="defrost">{{.Telemetry.DefrostPhase}}{{if .Telemetry.DefrostTrigger}} ({{.Telemetry.DefrostTrigger}}){{end}}</td></tr>
<tr><th>Heat runtime</th><td id="runtime">{{minutes .Telemetry.HeatRuntimeMs}}</td></tr>
<tr><th>Startup lockout</th><td id="lockout">{{if .Telemetry.StartupLockout}}{{.Telemetry.StartupLockoutRemainSec}}s{{else}}done{{end}}</td></tr>
<tr><th>Manual override</th><td id="override">{{if .Telemetry.ManualOverride}}{{.Telemetry.ManualOverrideRemainSec}}s left{{else}}off{{end}}</td></tr>
</table>

<h2>Protections</h2>
<table>
<tr><th>Low pressure</th><td class="{{if .Telemetry.LPSFault}}fault{{else}}off{{end}}">{{if .Telemetry.LPSFault}}FAULT{{else}}ok{{end}}</td></tr>
<tr><th>Low ambient</th><td class="{{if .Telemetry.LowTemp}}fault{{else}}off{{end}}">{{if .Telemetry.LowTemp}}LOCKOUT{{else}}ok{{end}}</td></tr>
<tr><th>Compressor over-temp</th><td class="{{if .Telemetry.CompressorOverTemp}}fault{{else}}off{{end}}">{{if .Telemetry.CompressorOverTemp}}TRIPPED{{else}}ok{{end}}</td></tr>
<tr><th>Suction</th><td class="{{if .Telemetry.SuctionLowTemp}}fault{{else}}off{{end}}">{{if .Telemetry.SuctionLowTemp}}CRITICAL{{else if .Telemetry.SuctionWarn}}warn{{else}}ok{{end}}</td></tr>
<tr><th>Short-cycle</th><td>{{if .Telemetry.ShortCycleProtection}}holding{{else}}ok{{end}}</td></tr>
<tr><th>Reversing valve</th><td class="{{if .Telemetry.RVFail}}fault{{else}}off{{end}}">{{if .Telemetry.RVFail}}FAILED{{else}}ok{{end}}</td></tr>
</table>

<h2>Pins</h2>
<table>
{{range $name, $on := .Telemetry.Inputs}}<tr><th>{{$name}} (in)</th><td class="{{if $on}}on{{else}}off{{end}}">{{onOff $on}}</td></tr>
{{end}}{{range $name, $on := .Telemetry.Outputs}}<tr><th>{{$name}} (out)</th><td class="{{if $on}}on{{else}}off{{end}}">{{onOff $on}}</td></tr>
{{end}}{{range $name, $v := .Telemetry.Sensors}}<tr><th>{{$name}}</th><td>{{printf "%.1f" $v}}&deg;F</td></tr>
{{end}}</table>

<h2>Controls</h2>
<p>
<button onclick="post('/api/defrost')">Force defrost</button>
<button onclick="post('/api/override', 'on')">Override on</button>
<button onclick="post('/api/override', 'off')">Override off</button>
<button onclick="post('/api/lps/clear')">Clear LPS</button>
<button onclick="post('/api/rvfail/clear')">Clear RV fail</button>
<button onclick="post('/api/runtime/reset')">Reset runtime</button>
</p>
<p id="result"></p>

{{if .Events}}<h2>Recent Events</h2>
<table>
{{range .Events}}<tr><th>{{.Time.UTC.Format "15:04:05"}}</th><td>{{.Type}}{{if .Detail}} {{.Detail}}{{end}}</td></tr>
{{end}}</table>{{end}}

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Poll</th><td>{{.Config.PollMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> | <a href="/api/faults">Fault history</a></p>
<script>
function post(path, body) {
  fetch(path, { method: "POST", body: body || "" })
    .then(function(r) { return r.json(); })
    .then(function(j) { document.getElementById("result").textContent = j.error || "ok"; });
}
(function() {
  var dot = document.getElementById("live-dot");
  function connect() {
    var ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/ws");
    ws.onopen = function() { dot.className = "live-dot ok"; dot.title = "live"; };
    ws.onclose = function() { dot.className = "live-dot err"; dot.title = "offline"; setTimeout(connect, 5000); };
    ws.onmessage = function(ev) {
      try {
        var t = JSON.parse(ev.data).telemetry;
        document.getElementById("state").textContent = t.state;
        document.getElementById("defrost").textContent = t.defrostPhase + (t.defrostTrigger ? " (" + t.defrostTrigger + ")" : "");
        document.getElementById("runtime").textContent = (t.heatRuntimeMs / 60000).toFixed(1) + " min";
        document.getElementById("lockout").textContent = t.startupLockout ? t.startupLockoutRemainSec + "s" : "done";
        document.getElementById("override").textContent = t.manualOverride ? t.manualOverrideRemainSec + "s left" : "off";
      } catch (e) {}
    };
  }
  connect();
})();
</script>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) error {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	return indexTmpl.Execute(w, data)
}
