package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"cio-bot/internal/config"
	"cio-bot/internal/domain"
)

var (
	ErrEmptyMessage = errors.New("empty message")
	ErrBusy         = errors.New("still waiting for the previous reply")
)

type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// StreamingClient is implemented by clients that can deliver the reply
// incrementally. The returned string is the full reply.
type StreamingClient interface {
	Client
	CompleteStream(ctx context.Context, req CompletionRequest, onDelta func(string)) (string, error)
}

type CompletionRequest struct {
	Model               string
	Messages            []Message
	Temperature         float32
	MaxCompletionTokens int
}

type Message struct {
	Role domain.Role
	Text string
}

// Reply is the assistant turn recorded by a submit. Err is the endpoint
// failure that produced Content, nil on success.
type Reply struct {
	Content string
	Err     error
}

func (r Reply) Failed() bool {
	return r.Err != nil
}

type State int

const (
	StateIdle State = iota
	StateAwaitingReply
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingReply:
		return "awaiting-reply"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Service owns the conversation of one session.
type Service struct {
	store       domain.ConversationStore
	client      Client
	cfg         config.Config
	instruction string
	sessionID   string
	logger      zerolog.Logger
	now         func() time.Time

	mu    sync.Mutex
	state State
}

func NewService(store domain.ConversationStore, client Client, instruction string, cfg config.Config) *Service {
	sessionID := uuid.NewString()
	return &Service{
		store:       store,
		client:      client,
		cfg:         cfg,
		instruction: instruction,
		sessionID:   sessionID,
		logger:      log.With().Str("session_id", sessionID).Logger(),
		now:         time.Now,
	}
}

func (s *Service) SessionID() string {
	return s.sessionID
}

func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transcript returns the turns recorded so far, oldest first.
func (s *Service) Transcript() []domain.Message {
	return s.store.Messages()
}

// Submit records userText, asks the endpoint for a reply and records it.
// Endpoint failures do not surface as errors: they are recorded as an
// assistant turn and reported through Reply.Err. The only errors returned
// are ErrEmptyMessage and ErrBusy, in which case nothing is recorded.
func (s *Service) Submit(ctx context.Context, userText string) (Reply, error) {
	return s.submit(ctx, userText, nil)
}

// SubmitStream behaves like Submit and calls onDelta with each chunk of the
// reply as it arrives. Clients without streaming support deliver the whole
// reply as a single chunk.
func (s *Service) SubmitStream(ctx context.Context, userText string, onDelta func(string)) (Reply, error) {
	if onDelta == nil {
		onDelta = func(string) {}
	}
	return s.submit(ctx, userText, onDelta)
}

func (s *Service) submit(ctx context.Context, userText string, onDelta func(string)) (Reply, error) {
	if strings.TrimSpace(userText) == "" {
		return Reply{}, ErrEmptyMessage
	}

	if !s.begin() {
		return Reply{}, ErrBusy
	}
	defer s.finish()

	s.store.Append(domain.Message{
		Role:      domain.RoleUser,
		Content:   userText,
		Timestamp: s.now(),
	})

	req := CompletionRequest{
		Model:               s.cfg.Model,
		Messages:            BuildMessages(s.instruction, s.store.Recent(s.cfg.ContextLimit, s.cfg.ContextTTL)),
		Temperature:         s.cfg.Temperature,
		MaxCompletionTokens: s.cfg.MaxCompletionTokens,
	}

	s.logger.Debug().
		Int("request_messages", len(req.Messages)).
		Int("history_len", s.store.Len()).
		Str("model", req.Model).
		Msg("sending completion request")

	start := s.now()
	content, err := s.call(ctx, req, onDelta)
	reply := Reply{Content: content}
	if err != nil {
		s.logger.Warn().Err(err).Dur("elapsed", s.now().Sub(start)).Msg("completion request failed")
		reply = Reply{Content: ErrorReply(err), Err: err}
	} else {
		s.logger.Debug().Dur("elapsed", s.now().Sub(start)).Int("reply_len", len(content)).Msg("completion received")
	}

	s.store.Append(domain.Message{
		Role:      domain.RoleAssistant,
		Content:   reply.Content,
		Timestamp: s.now(),
	})

	return reply, nil
}

func (s *Service) call(ctx context.Context, req CompletionRequest, onDelta func(string)) (content string, err error) {
	if s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			content, err = "", errors.Errorf("%v", r)
		}
	}()

	if onDelta == nil {
		return s.client.Complete(ctx, req)
	}

	if streaming, ok := s.client.(StreamingClient); ok {
		return streaming.CompleteStream(ctx, req, onDelta)
	}

	content, err = s.client.Complete(ctx, req)
	if err == nil {
		onDelta(content)
	}
	return content, err
}

func (s *Service) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateAwaitingReply {
		return false
	}
	s.state = StateAwaitingReply
	return true
}

func (s *Service) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateIdle
}

// BuildMessages prefixes history with the instruction as a system message.
func BuildMessages(instruction string, history []domain.Message) []Message {
	messages := make([]Message, 0, len(history)+1)
	messages = append(messages, Message{
		Role: domain.RoleSystem,
		Text: instruction,
	})
	for _, h := range history {
		role := domain.RoleUser
		if h.Role == domain.RoleAssistant {
			role = domain.RoleAssistant
		}
		messages = append(messages, Message{
			Role: role,
			Text: h.Content,
		})
	}
	return messages
}

// ErrorReply is the assistant text recorded when the endpoint fails.
func ErrorReply(err error) string {
	return fmt.Sprintf("Sorry, I encountered an error: %s. Please try again.", err)
}
