package output

import "net/http"

// ViewerHandler serves a page that shows the annotated stream with camera,
// page and toggle controls, the label history and live toasts.
func ViewerHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(viewerHTML))
	}
}

const viewerHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>LandmarkLens</title>
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        body {
            background: #0f172a;
            color: #e2e8f0;
            font-family: system-ui, -apple-system, sans-serif;
            display: grid;
            grid-template-columns: 1fr 280px;
            height: 100vh;
        }
        .stage { background: #000; display: flex; align-items: center; justify-content: center; }
        .stage img { width: 100%; height: 100%; object-fit: contain; display: block; }
        aside { padding: 16px; display: flex; flex-direction: column; gap: 12px; overflow-y: auto; }
        h2 { font-size: 13px; text-transform: uppercase; color: #94a3b8; letter-spacing: 0.05em; }
        button, select {
            background: #1e293b; color: #e2e8f0; border: 1px solid #334155;
            border-radius: 6px; padding: 6px 10px; font-size: 13px; cursor: pointer;
        }
        button.on { background: #0e7490; border-color: #22d3ee; }
        .row { display: flex; gap: 6px; flex-wrap: wrap; }
        #history { font-family: monospace; font-size: 14px; word-break: break-all; }
        #error { color: #fca5a5; font-size: 13px; }
        #toasts { position: fixed; bottom: 16px; left: 16px; display: flex; flex-direction: column; gap: 8px; }
        .toast { background: rgba(220, 38, 38, 0.9); padding: 8px 14px; border-radius: 6px; font-size: 13px; }
    </style>
</head>
<body>
    <div class="stage"><img src="/stream" alt="LandmarkLens stream"></div>
    <aside>
        <h2>Camera</h2>
        <div class="row">
            <button onclick="post('/api/camera/start')">Start</button>
            <button onclick="post('/api/camera/stop')">Stop</button>
        </div>
        <div id="error"></div>
        <h2>Page</h2>
        <select id="page" onchange="put('/api/page', {page: this.value})">
            <option value="asl">ASL</option>
            <option value="segmentation">Segmentation</option>
        </select>
        <h2>Toggles</h2>
        <div class="row" id="toggles"></div>
        <h2>History</h2>
        <div id="history"></div>
        <div class="row"><button onclick="del('/api/history')">Clear history</button></div>
        <p><a href="/stats" style="color: #569cd6; font-size: 12px;">Stream stats</a></p>
    </aside>
    <div id="toasts"></div>
    <script>
        const send = (method, url, body) => fetch(url, {
            method,
            headers: {'Content-Type': 'application/json'},
            body: body ? JSON.stringify(body) : undefined,
        }).then(refresh);
        const post = (url, body) => send('POST', url, body);
        const put = (url, body) => send('PUT', url, body);
        const del = (url) => send('DELETE', url);

        function render(state) {
            document.getElementById('page').value = state.page;
            document.getElementById('error').textContent = state.camera.error_message || '';
            const toggles = document.getElementById('toggles');
            toggles.innerHTML = '';
            Object.entries(state.toggles).forEach(([name, on]) => {
                const b = document.createElement('button');
                b.textContent = name;
                b.className = on ? 'on' : '';
                b.onclick = () => put('/api/toggles/' + name, {on: !on});
                toggles.appendChild(b);
            });
            document.getElementById('history').textContent = (state.history || []).join(' ');
        }

        function refresh() {
            return fetch('/api/state').then(r => r.json()).then(render).catch(console.error);
        }

        function toast(t) {
            const el = document.createElement('div');
            el.className = 'toast';
            el.textContent = t.text;
            document.getElementById('toasts').appendChild(el);
            setTimeout(() => el.remove(), Math.max(0, new Date(t.expires_at) - new Date(t.created_at)));
        }

        function connect() {
            const ws = new WebSocket((location.protocol === 'https:' ? 'wss://' : 'ws://') + location.host + '/api/events');
            ws.onmessage = (e) => {
                const msg = JSON.parse(e.data);
                if (msg.type === 'toast') toast(msg.toast);
                if (msg.type === 'state') render(msg.state);
            };
            ws.onclose = () => setTimeout(connect, 2000);
        }

        refresh();
        connect();
    </script>
</body>
</html>`
