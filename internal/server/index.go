package server

// indexHTML is the browser rendition of the recorder: one toggle button and the live waveform canvas
const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>VoiceCapture</title>
    <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/@picocss/pico@2/css/pico.min.css">
    <style>
        canvas { width: 100%; height: 120px; border-radius: 8px; }
        #status { font-family: monospace; }
    </style>
</head>
<body>
    <main class="container">
        <h1>VoiceCapture</h1>
        <canvas id="waveform" width="600" height="120"></canvas>
        <p id="status">Loading...</p>
        <input id="name" type="text" placeholder="Recording name (optional)">
        <div role="group">
            <button id="toggle">Record</button>
            <button id="release" class="secondary">Release microphone</button>
        </div>
        <audio id="player" controls hidden></audio>
        <h2>Recordings</h2>
        <ul id="files"></ul>
    </main>
    <script>
    const canvas = document.getElementById('waveform');
    const ctx = canvas.getContext('2d');
    const statusEl = document.getElementById('status');
    const toggle = document.getElementById('toggle');
    const player = document.getElementById('player');
    let state = 'UNINITIALIZED';

    function draw(frame) {
        canvas.width = frame.width;
        canvas.height = frame.height;
        ctx.fillStyle = frame.background;
        ctx.fillRect(0, 0, frame.width, frame.height);
        if (!frame.points || frame.points.length === 0) return;
        ctx.lineWidth = frame.line_width;
        ctx.strokeStyle = frame.stroke;
        ctx.beginPath();
        frame.points.forEach((p, i) => i === 0 ? ctx.moveTo(p.x, p.y) : ctx.lineTo(p.x, p.y));
        ctx.stroke();
    }

    function connect() {
        const proto = location.protocol === 'https:' ? 'wss:' : 'ws:';
        const ws = new WebSocket(proto + '//' + location.host + '/ws/waveform');
        ws.onmessage = (ev) => draw(JSON.parse(ev.data));
        ws.onclose = () => setTimeout(connect, 2000);
    }

    async function refresh() {
        const res = await fetch('/status');
        const s = await res.json();
        state = s.state;
        statusEl.textContent = s.state + ' | ' + (s.message || '') + ' | ' + s.backend;
        toggle.textContent = state === 'RECORDING' ? 'Stop' : 'Record';
    }

    async function listFiles() {
        const res = await fetch('/api/files');
        const data = await res.json();
        const list = document.getElementById('files');
        list.innerHTML = '';
        data.files.forEach((f) => {
            const li = document.createElement('li');
            const a = document.createElement('a');
            a.href = f.download_url;
            a.textContent = f.name + ' (' + f.size_human + ')';
            li.appendChild(a);
            list.appendChild(li);
        });
    }

    toggle.onclick = async () => {
        if (state === 'RECORDING') {
            const body = new URLSearchParams({ name: document.getElementById('name').value });
            const res = await fetch('/stop', { method: 'POST', body });
            const data = await res.json();
            if (data.success) {
                player.src = data.download_url + '?t=' + Date.now();
                player.hidden = false;
                listFiles();
            } else {
                alert(data.error);
            }
        } else {
            const res = await fetch('/start', { method: 'POST' });
            const data = await res.json();
            if (!data.success) alert(data.error);
        }
        refresh();
    };

    document.getElementById('release').onclick = async () => {
        await fetch('/release', { method: 'POST' });
        refresh();
    };

    connect();
    refresh();
    listFiles();
    setInterval(refresh, 1000);
    </script>
</body>
</html>`
