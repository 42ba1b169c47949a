package webmonitor

const indexHTML = `
<!DOCTYPE html>
<html>
<head>
    <title>Bin Plate Camera Monitor</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
        body { margin: 0; font-family: system-ui, sans-serif; background: #111; color: #eee; }
        .app { max-width: 1100px; margin: 0 auto; padding: 16px; }
        .header { display: flex; justify-content: space-between; align-items: center; }
        .badge { padding: 4px 10px; border-radius: 12px; background: #444; font-size: 13px; }
        .badge.live { background: #1b7f3b; }
        .grid { display: grid; grid-template-columns: 2fr 1fr; gap: 16px; margin-top: 16px; }
        .panel { background: #1c1c1c; border-radius: 8px; padding: 12px; }
        #stream { width: 100%; display: block; background: #000; }
        .plate { font-size: 40px; font-weight: 700; letter-spacing: 2px; }
        .muted { color: #999; font-size: 13px; }
        table { width: 100%; border-collapse: collapse; font-size: 13px; }
        td { padding: 4px 0; border-bottom: 1px solid #333; }
    </style>
</head>
<body>
    <div class="app">
        <div class="header">
            <h1>Bin Plate Camera</h1>
            <span class="badge" id="status-badge">Connecting...</span>
        </div>
        <div class="grid">
            <div class="panel">
                <img id="stream" src="/stream" alt="Live stream">
            </div>
            <div class="panel">
                <div class="muted">Latest match</div>
                <div class="plate" id="plate">-</div>
                <div class="muted">Similarity <span id="confidence">-</span></div>
                <div class="muted" id="timestamp">-</div>
                <h3>Recent</h3>
                <table id="history"></table>
            </div>
        </div>
    </div>
    <script>
        const badge = document.getElementById('status-badge');
        const history = document.getElementById('history');

        function render(ev) {
            if (!ev || !ev.plate) return;
            document.getElementById('plate').textContent = ev.plate;
            document.getElementById('confidence').textContent = ev.confidence.toFixed(2);
            document.getElementById('timestamp').textContent = ev.timestamp;
            const row = history.insertRow(0);
            row.insertCell(0).textContent = ev.timestamp;
            row.insertCell(1).textContent = ev.plate;
            while (history.rows.length > 10) history.deleteRow(-1);
        }

        fetch('/latest').then(r => r.json()).then(render).catch(() => {});

        const events = new EventSource('/api/latest/stream');
        events.onopen = () => { badge.textContent = 'Live'; badge.classList.add('live'); };
        events.onerror = () => { badge.textContent = 'Reconnecting...'; badge.classList.remove('live'); };
        events.onmessage = (msg) => render(JSON.parse(msg.data));
    </script>
</body>
</html>
`
