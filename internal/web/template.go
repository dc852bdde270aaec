package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/line-oee/internal/status"
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
	"pct": func(v float64) string {
		return fmt.Sprintf("%.1f%%", v*100)
	},
	"orDash": func(s string) string {
		if s == "" {
			return "-"
		}
		return s
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta http-equiv="refresh" content="30">
<title>Line OEE</title>
<style>
body { font-family: monospace; max-width: 960px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
.kv th { width: 40%; }
.running { color: green; font-weight: bold; }
.stopped { color: red; font-weight: bold; }
.unknown { color: orange; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>Line OEE{{if .Config.NodeID}} ({{.Config.NodeID}}){{end}}</h1>

<h2>Machines</h2>
{{if .Machines}}<table>
<tr><th>Machine</th><th>Status</th><th>Product</th><th>Shift</th><th>Units</th><th>Defects</th><th>A</th><th>P</th><th>Q</th><th>OEE</th><th>Shift OEE</th><th>Downtime</th></tr>
{{range .Machines}}<tr>
<td>{{.Machine}}</td>
<td class="{{if .MachineStatus}}{{.MachineStatus}}{{else}}unknown{{end}}">{{orDash .MachineStatus}}</td>
<td>{{orDash .Product}}</td>
<td>{{orDash .Shift}}</td>
<td>{{.TotalCount}}</td>
<td>{{.DefectCount}}</td>
<td>{{pct .Availability}}</td>
<td>{{pct .Performance}}</td>
<td>{{pct .Quality}}</td>
<td>{{pct .OEE}}</td>
<td>{{if .Summary}}{{pct .Summary.OEE}}{{else}}-{{end}}</td>
<td>{{if .Downtime}}{{.Downtime.Status}}{{if .Downtime.Code}} {{.Downtime.Code}}{{end}}{{else}}-{{end}}</td>
</tr>
{{end}}</table>{{else}}<p>No machine activity yet.</p>{{end}}

<h2>Connectivity</h2>
<table class="kv">
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
{{if .Config.NATS}}<tr><th>NATS</th><td>{{.Config.NATS}}</td></tr>{{end}}
<tr><th>Database</th><td>{{.Config.Database}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>Event Counts</h2>
<table class="kv">
{{range $kind, $n := .Counts}}<tr><th>{{$kind}}</th><td>{{$n}}</td></tr>
{{else}}<tr><th>events</th><td>0</td></tr>
{{end}}</table>

{{if .Counter}}<h2>Counter Input</h2>
<table class="kv">
<tr><th>Machine</th><td>{{.Counter.Machine}}</td></tr>
<tr><th>Pulses</th><td>{{.Counter.Pulses}}</td></tr>
<tr><th>Ready</th><td>{{if .Counter.Ready}}yes{{else}}no{{end}}</td></tr>
{{if .Counter.Level}}<tr><th>Level</th><td>{{.Counter.Level}}</td></tr>{{end}}
{{if not .Counter.LastPulse.IsZero}}<tr><th>Last pulse</th><td>{{.Counter.LastPulse.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>{{end}}
</table>{{end}}

<h2>System</h2>
<table class="kv">
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Timezone</th><td>{{.Config.Timezone}}</td></tr>
<tr><th>Live interval</th><td>{{.Config.LiveIntervalMs}}ms</td></tr>
<tr><th>Shift interval</th><td>{{.Config.ShiftIntervalMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
</body>
</html>
`

// page is the template view: the snapshot plus values the template cannot
// compute itself.
type page struct {
	status.Snapshot
	Uptime   time.Duration
	Machines []status.MachineJSON
}

func renderHTML(w io.Writer, snap status.Snapshot) error {
	data := page{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	for _, code := range snap.MachineCodes() {
		data.Machines = append(data.Machines, status.BuildMachine(snap.Machines[code]))
	}
	return indexTmpl.Execute(w, data)
}
