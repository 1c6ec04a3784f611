package httpapi

import "net/http"

const dashboardHTML = `<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>shopify-bitrix relay</title>
<style>
body { font-family: ui-monospace, monospace; margin: 2rem; background: #111; color: #ddd; }
h1 { font-size: 1.1rem; }
table { border-collapse: collapse; width: 100%; }
th, td { text-align: left; padding: 0.3rem 0.8rem; border-bottom: 1px solid #333; font-size: 0.85rem; }
.completed { color: #7c7; }
.failed { color: #e77; }
.rejected { color: #ca6; }
.accepted { color: #9cf; }
</style>
</head>
<body>
<h1>shopify-bitrix relay &mdash; recent deliveries</h1>
<table>
<thead><tr><th>received</th><th>topic</th><th>order</th><th>status</th><th>detail</th></tr></thead>
<tbody id="rows"></tbody>
</table>
<script>
const rows = document.getElementById('rows');
const byId = new Map();
const proto = location.protocol === 'https:' ? 'wss:' : 'ws:';
const ws = new WebSocket(proto + '//' + location.host + '/ws/feed');
ws.onmessage = (msg) => {
  const e = JSON.parse(msg.data);
  let tr = byId.get(e.id);
  if (!tr) {
    tr = document.createElement('tr');
    byId.set(e.id, tr);
    rows.insertBefore(tr, rows.firstChild);
  }
  tr.innerHTML =
    '<td>' + new Date(e.received_at).toLocaleTimeString() + '</td>' +
    '<td>' + e.topic + '</td>' +
    '<td>' + (e.key || '') + '</td>' +
    '<td class="' + e.status + '">' + e.status + '</td>' +
    '<td>' + (e.detail || '') + '</td>';
  while (rows.children.length > 100) rows.removeChild(rows.lastChild);
};
</script>
</body>
</html>`

func (s *Server) handleDashboard(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(dashboardHTML))
}
