package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/agentworkforce/relaydrive/internal/relaydrive"
)

const (
	maxInboundFrameBytes = 1 << 20
	downloadTimeout      = 60 * time.Second
)

// wireEvent is the gateway's inbound frame format.
type wireEvent struct {
	ChatID     int64           `json:"chatId"`
	MessageID  int64           `json:"messageId"`
	SenderID   int64           `json:"senderId"`
	Username   string          `json:"username,omitempty"`
	Text       string          `json:"text,omitempty"`
	GroupKey   string          `json:"groupKey,omitempty"`
	Attachment *wireAttachment `json:"attachment,omitempty"`
}

type wireAttachment struct {
	Kind     string `json:"kind"`
	FileID   string `json:"fileId"`
	Filename string `json:"filename,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

type wireOutbound struct {
	Type      string `json:"type"`
	ChatID    int64  `json:"chatId"`
	MessageID int64  `json:"messageId"`
	Text      string `json:"text,omitempty"`
	State     string `json:"state,omitempty"`
}

type WebsocketOptions struct {
	URL        string
	Token      string
	HTTPClient *http.Client
	Logger     *logrus.Logger
}

// WebsocketTransport speaks the gateway's JSON framing over a single
// websocket connection. Payload downloads go over plain HTTP against the
// same host.
type WebsocketTransport struct {
	url        string
	token      string
	httpClient *http.Client
	log        *logrus.Entry

	writeMu sync.Mutex
	conn    *websocket.Conn
}

func NewWebsocketTransport(opts WebsocketOptions) *WebsocketTransport {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: downloadTimeout}
	}
	return &WebsocketTransport{
		url:        opts.URL,
		token:      opts.Token,
		httpClient: httpClient,
		log:        logger.WithField("component", "gateway.websocket"),
	}
}

// Run dials the gateway and pumps inbound events to handle until the
// context is cancelled or the connection drops. Each event is handled in
// its own goroutine so a slow download never stalls the read loop.
func (t *WebsocketTransport) Run(ctx context.Context, handle func(context.Context, Event)) error {
	header := http.Header{}
	if t.token != "" {
		header.Set("Authorization", "Bearer "+t.token)
	}
	conn, _, err := websocket.Dial(ctx, t.url, &websocket.DialOptions{
		HTTPClient: t.httpClient,
		HTTPHeader: header,
	})
	if err != nil {
		return fmt.Errorf("dialing gateway %s: %w", t.url, err)
	}
	conn.SetReadLimit(maxInboundFrameBytes)
	t.writeMu.Lock()
	t.conn = conn
	t.writeMu.Unlock()
	defer func() {
		t.writeMu.Lock()
		t.conn = nil
		t.writeMu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "shutting down")
	}()
	t.log.WithField("url", t.url).Info("gateway connected")

	for {
		var frame wireEvent
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("reading gateway frame: %w", err)
		}
		go handle(ctx, decodeEvent(frame))
	}
}

func decodeEvent(frame wireEvent) Event {
	event := Event{
		ChatID:    frame.ChatID,
		MessageID: frame.MessageID,
		SenderID:  frame.SenderID,
		Username:  frame.Username,
		Text:      frame.Text,
		GroupKey:  frame.GroupKey,
	}
	if frame.Attachment != nil {
		event.Attachment = &Attachment{
			Kind:     AttachmentKind(frame.Attachment.Kind),
			FileID:   frame.Attachment.FileID,
			Filename: frame.Attachment.Filename,
			MimeType: frame.Attachment.MimeType,
			Size:     frame.Attachment.Size,
		}
	}
	if strings.HasPrefix(event.Text, "/") {
		fields := strings.Fields(strings.TrimPrefix(event.Text, "/"))
		if len(fields) > 0 {
			event.Command = fields[0]
			event.Args = fields[1:]
			event.Text = ""
		}
	}
	return event
}

func (t *WebsocketTransport) Reply(ctx context.Context, chatID, messageID int64, text string) error {
	return t.write(ctx, wireOutbound{Type: "reply", ChatID: chatID, MessageID: messageID, Text: text})
}

func (t *WebsocketTransport) React(ctx context.Context, chatID, messageID int64, state relaydrive.FeedbackState) error {
	return t.write(ctx, wireOutbound{Type: "reaction", ChatID: chatID, MessageID: messageID, State: string(state)})
}

func (t *WebsocketTransport) write(ctx context.Context, frame wireOutbound) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if t.conn == nil {
		return fmt.Errorf("gateway not connected")
	}
	return wsjson.Write(ctx, t.conn, frame)
}

// Download fetches an attachment payload over HTTP from the gateway host.
func (t *WebsocketTransport) Download(ctx context.Context, fileID string) ([]byte, error) {
	url := httpBaseURL(t.url) + "/v1/files/" + fileID + "/content"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building download request: %w", err)
	}
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading %s: %w", fileID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("downloading %s: gateway returned status %d", fileID, resp.StatusCode)
	}
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s payload: %w", fileID, err)
	}
	return payload, nil
}

// httpBaseURL rewrites a websocket endpoint to its HTTP origin, dropping
// the websocket path.
func httpBaseURL(wsURL string) string {
	base := wsURL
	switch {
	case strings.HasPrefix(base, "wss://"):
		base = "https://" + strings.TrimPrefix(base, "wss://")
	case strings.HasPrefix(base, "ws://"):
		base = "http://" + strings.TrimPrefix(base, "ws://")
	}
	if sep := strings.Index(base, "://"); sep >= 0 {
		scheme, rest := base[:sep+3], base[sep+3:]
		if slash := strings.Index(rest, "/"); slash >= 0 {
			rest = rest[:slash]
		}
		base = scheme + rest
	}
	return base
}
