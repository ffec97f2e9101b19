package status

import (
	"html/template"

	"github.com/mbhd/hwclient-go/hwclient"
)

type statusTemplateDevice struct {
	Type     string
	Path     string
	Attached bool
}

type statusTemplateData struct {
	Version     string
	Devices     []statusTemplateDevice
	DeviceCount int
	Client      hwclient.Status
	Log         string

	IsError bool
	Error   string

	CSRFField template.HTML
}

const templateString = `
<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>Hardware wallet client status</title>
  <style>
    body { font-family: system-ui, sans-serif; margin: 0; background: #fafafa; color: #222; }
    main { max-width: 960px; margin: 0 auto; padding: 24px; }
    header { display: flex; align-items: baseline; gap: 16px; }
    .version { font-family: monospace; color: #2b6cb0; }
    .error { border-left: 4px solid #c53030; background: #fff5f5; padding: 8px 12px; margin: 16px 0; }
    table { border-collapse: collapse; width: 100%; margin: 16px 0; }
    th, td { text-align: left; padding: 6px 10px; border-bottom: 1px solid #ddd; }
    th { font-weight: 600; width: 30%; }
    textarea { width: 100%; font-family: monospace; font-size: 12px; }
    button { padding: 8px 20px; border: 1px solid #2b6cb0; background: #2b6cb0; color: white; border-radius: 3px; cursor: pointer; }
    button:disabled { background: #ccc; border-color: #ccc; }
  </style>
</head>

<body>
<main>
  <header>
    <h1>Hardware wallet client</h1>
    <span class="version">Version: {{.Version}}</span>
  </header>

  {{if .IsError}}
  <div class="error"><b>Error:</b> {{.Error}}</div>
  {{end}}

  <h2>Devices ({{.DeviceCount}})</h2>
  <p>Connected devices: {{.DeviceCount}}</p>
  <table>
    <tr><th>Type</th><th>Path</th><th>Session</th></tr>
    {{range .Devices}}
    <tr>
      <td>{{.Type}}</td>
      <td>Path: {{.Path}}</td>
      <td>{{if .Attached}}{{with $.Client.Session}}{{.}}{{else}}attached{{end}}{{else}}-{{end}}</td>
    </tr>
    {{end}}
  </table>

  <h2>Operations</h2>
  <table>
    <tr><th>Authentication flow</th><td>{{.Client.Flow}}</td></tr>
    <tr><th>PINs accepted / rejected</th><td>{{.Client.PinAccepted}} / {{.Client.PinRejected}}</td></tr>
    <tr><th>Wallet reset</th><td>{{.Client.Reset}} ({{.Client.Words}} steps confirmed)</td></tr>
    <tr><th>Cipher request pending</th><td>{{.Client.CipherPending}}</td></tr>
    <tr><th>Event subscribers</th><td>{{.Client.Subscribers}}</td></tr>
  </table>

  <h2>Log</h2>
  <textarea rows="25" readonly>
{{.Log}}
  </textarea>
  <form id="logform">
    {{.CSRFField}}
    <button type="button" id="download" onclick="downloadLog()">Download detailed log</button>
  </form>
</main>
<script>
  function downloadLog() {
    var button = document.getElementById("download");
    button.disabled = true;
    fetch("/status/log.gz", {
      method: "post",
      body: new URLSearchParams(new FormData(document.getElementById("logform"))),
      credentials: "same-origin",
    }).then(function(resp) {
      return resp.blob();
    }).then(function(blob) {
      var a = document.createElement("a");
      a.href = window.URL.createObjectURL(blob);
      a.download = "log.gz";
      document.body.appendChild(a);
      a.click();
      window.URL.revokeObjectURL(a.href);
      a.remove();
    }).finally(function() {
      button.disabled = false;
    });
  }
</script>
</body>
</html>
`

var statusTemplate = template.Must(template.New("status").Parse(templateString))
