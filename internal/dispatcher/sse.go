package dispatcher

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"github.com/relaymux/llm-gateway/internal/protocol"
	"github.com/relaymux/llm-gateway/internal/upstream"
)

// readUpstreamSSE scans an upstream streamGenerateContent SSE body one
// `data:` line at a time, decoding and unwrapping each chunk and invoking
// feed for it. It stops at EOF or the first decode error, always closing
// body. feed returning an error aborts the scan early (used once one
// response byte has been written downstream and a decode failure must end
// the stream rather than retry it).
func readUpstreamSSE(body io.ReadCloser, feed func(*protocol.GoogleResponse) error) error {
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || payload == "[DONE]" {
			continue
		}

		var raw map[string]interface{}
		if err := json.Unmarshal([]byte(payload), &raw); err != nil {
			continue // a malformed keepalive/comment line, not a fatal error
		}
		chunk := protocol.GoogleResponseFromMap(upstream.Unwrap(raw))
		if err := feed(chunk); err != nil {
			return err
		}
	}
	return scanner.Err()
}
