package terminal

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"cio-bot/internal/domain"
	"cio-bot/internal/usecase/chat"
)

const (
	inputPrompt    = "Type your message here..."
	cmdQuit        = "/quit"
	cmdHistory     = "/history"
	rendererWrapAt = 100
)

type Options struct {
	Title  string
	Stream bool
	// Markdown forces markdown rendering on or off. Nil means render only
	// when the output is a terminal.
	Markdown *bool
}

type REPL struct {
	in       io.Reader
	out      io.Writer
	chat     *chat.Service
	opts     Options
	renderer *glamour.TermRenderer
}

func NewREPL(svc *chat.Service, in io.Reader, out io.Writer, opts Options) (*REPL, error) {
	r := &REPL{
		in:   in,
		out:  out,
		chat: svc,
		opts: opts,
	}

	markdown := isTerminal(out)
	if opts.Markdown != nil {
		markdown = *opts.Markdown
	}
	if markdown && !opts.Stream {
		renderer, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(rendererWrapAt),
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create markdown renderer")
		}
		r.renderer = renderer
	}

	return r, nil
}

// Run reads one message per line until EOF, /quit or ctx is cancelled.
func (r *REPL) Run(ctx context.Context) error {
	if r.opts.Title != "" {
		fmt.Fprintf(r.out, "%s\n%s\n\n", r.opts.Title, strings.Repeat("=", len([]rune(r.opts.Title))))
	}

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r.in)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		fmt.Fprintf(r.out, "%s\n> ", inputPrompt)

		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(r.out)
			return ctx.Err()
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(r.out)
				select {
				case err := <-scanErr:
					return errors.Wrap(err, "failed to read input")
				default:
					return nil
				}
			}
			line = l
		}

		text := strings.TrimSpace(line)
		switch text {
		case "":
			continue
		case cmdQuit:
			return nil
		case cmdHistory:
			r.printTranscript(r.chat.Transcript())
			continue
		}

		if err := r.submit(ctx, line); err != nil {
			return err
		}
	}
}

func (r *REPL) submit(ctx context.Context, text string) error {
	var (
		reply chat.Reply
		err   error
	)

	if r.opts.Stream {
		fmt.Fprint(r.out, "assistant: ")
		streamed := false
		reply, err = r.chat.SubmitStream(ctx, text, func(delta string) {
			streamed = true
			fmt.Fprint(r.out, delta)
		})
		switch {
		case err == nil && reply.Failed():
			// the recorded turn is the error text, not the partial stream
			if streamed {
				fmt.Fprint(r.out, "\n")
			}
			fmt.Fprint(r.out, reply.Content)
		case err == nil && !streamed:
			fmt.Fprint(r.out, reply.Content)
		}
		fmt.Fprint(r.out, "\n\n")
	} else {
		fmt.Fprintln(r.out, "Thinking...")
		reply, err = r.chat.Submit(ctx, text)
		if err == nil {
			r.printMessage(domain.Message{Role: domain.RoleAssistant, Content: reply.Content})
		}
	}

	switch {
	case errors.Is(err, chat.ErrEmptyMessage), errors.Is(err, chat.ErrBusy):
		fmt.Fprintln(r.out, err.Error())
		return nil
	case err != nil:
		return err
	}

	if reply.Failed() {
		log.Error().Err(reply.Err).Str("session_id", r.chat.SessionID()).Msg("completion request failed")
	}
	return nil
}

func (r *REPL) printTranscript(msgs []domain.Message) {
	if len(msgs) == 0 {
		fmt.Fprintln(r.out, "(no messages yet)")
		return
	}
	for _, m := range msgs {
		r.printMessage(m)
	}
}

func (r *REPL) printMessage(m domain.Message) {
	content := m.Content
	if r.renderer != nil {
		rendered, err := r.renderer.Render(content)
		if err != nil {
			log.Debug().Err(err).Msg("markdown rendering failed, printing plain text")
		} else {
			content = strings.TrimRight(rendered, "\n")
		}
	}
	fmt.Fprintf(r.out, "%s: %s\n\n", m.Role, content)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
