package cmd

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/phildougherty/medic/internal/intake"
	"github.com/phildougherty/medic/internal/mcp"
	"github.com/phildougherty/medic/internal/store"
	"github.com/phildougherty/medic/internal/voice"
)

var chatStyles = struct {
	Header  lipgloss.Style
	Patient lipgloss.Style
	Nurse   lipgloss.Style
	System  lipgloss.Style
	Error   lipgloss.Style
}{
	Header: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("39")).
		Foreground(lipgloss.Color("15")).
		Bold(true).
		Padding(0, 2),

	Patient: lipgloss.NewStyle().
		Foreground(lipgloss.Color("39")).
		Bold(true),

	Nurse: lipgloss.NewStyle().
		Foreground(lipgloss.Color("205")).
		Bold(true),

	System: lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Italic(true),

	Error: lipgloss.NewStyle().
		Foreground(lipgloss.Color("196")).
		Bold(true),
}

func NewChatCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Run an intake call in the terminal",
		Long: `Talk to the triage nurse from the terminal. Type your answers, or with --voice
press Enter on an empty line to speak. Type /end to finish the call and see the
triage report, /help for commands.`,
		RunE: runChat,
	}

	cmd.Flags().Bool("voice", false, "Use the microphone and speakers (requires a -tags voice build)")
	cmd.Flags().String("language", "", "Conversation language code (defaults to speech.language)")
	cmd.Flags().String("mcp-command", "", "Launch this command as the stdio MCP tool server")

	return cmd
}

// TermChat is one intake call driven from a terminal.
type TermChat struct {
	service  *intake.Service
	session  *intake.Session
	renderer *glamour.TermRenderer
	recorder *voice.Recorder
	in       *bufio.Scanner
	out      io.Writer
}

func runChat(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	if command, _ := cmd.Flags().GetString("mcp-command"); command != "" {
		fields := strings.Fields(command)
		a.cfg.MCP.Transport = "stdio"
		a.cfg.MCP.Command = fields[0]
		a.cfg.MCP.Args = fields[1:]
	}
	language, _ := cmd.Flags().GetString("language")
	if language == "" {
		language = a.cfg.Speech.Language
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	llm := a.aiManager()
	tools, _, reports, err := a.toolStack(ctx, llm)
	if err != nil {
		return err
	}
	caller, err := a.toolCaller(tools)
	if err != nil {
		return err
	}

	useVoice, _ := cmd.Flags().GetBool("voice")
	sc := a.speechClient()
	if useVoice && sc == nil {
		return fmt.Errorf("--voice needs ELEVENLABS_API_KEY")
	}

	agent := a.agent(llm, caller, reports, nil, sc)
	service := intake.NewService(agent, intake.NewMemorySessionStore(), a.metrics, a.log())

	tc, err := NewTermChat(service, cmd.InOrStdin(), cmd.OutOrStdout())
	if err != nil {
		return err
	}
	if useVoice {
		fmt.Fprintln(tc.out, chatStyles.System.Render(voice.CheckSystem()))
		recorder, err := voice.NewRecorder(voice.NewConfig())
		if err != nil {
			return err
		}
		defer recorder.Close()
		tc.recorder = recorder
	}

	return tc.Run(ctx, language)
}

func NewTermChat(service *intake.Service, in io.Reader, out io.Writer) (*TermChat, error) {
	width := 80
	if termWidth, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && termWidth > 20 {
		width = termWidth
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width-4),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create markdown renderer: %w", err)
	}
	return &TermChat{
		service:  service,
		renderer: renderer,
		in:       bufio.NewScanner(in),
		out:      out,
	}, nil
}

// Run holds the conversation until /end, /exit or end of input.
func (tc *TermChat) Run(ctx context.Context, language string) error {
	session, err := tc.service.Start(ctx, language)
	if err != nil {
		return err
	}
	tc.session = session

	fmt.Fprintln(tc.out, chatStyles.Header.Render("Medic triage nurse"))
	tc.system(fmt.Sprintf("Call %s started in %s. Type /end to finish, /help for commands.", session.ID, session.Language))
	if tc.recorder != nil {
		tc.system("Press Enter on an empty line to speak.")
	}
	fmt.Fprintln(tc.out)

	for {
		fmt.Fprint(tc.out, chatStyles.Patient.Render("You: "))
		if !tc.in.Scan() {
			return tc.in.Err()
		}
		input := strings.TrimSpace(tc.in.Text())

		if strings.HasPrefix(input, "/") {
			done, err := tc.handleCommand(ctx, input)
			if err != nil || done {
				return err
			}
			continue
		}
		if input == "" && tc.recorder == nil {
			continue
		}

		if err := tc.turn(ctx, input); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			tc.fail(err)
		}
	}
}

func (tc *TermChat) turn(ctx context.Context, input string) error {
	var (
		reply intake.Reply
		err   error
	)
	if input == "" {
		tc.system("Listening... stop talking to send.")
		reply, err = tc.voiceTurn(ctx)
		if reply.UserText != "" {
			fmt.Fprintln(tc.out, chatStyles.Patient.Render("You said: ")+reply.UserText)
		}
	} else {
		_, reply, err = tc.service.Text(ctx, tc.session.ID, input)
	}
	if err != nil {
		return err
	}
	if reply.AgentText == "" {
		return nil
	}

	fmt.Fprintln(tc.out, chatStyles.Nurse.Render("Nurse:"))
	fmt.Fprint(tc.out, tc.render(reply.AgentText))
	if len(reply.Audio) > 0 {
		if err := voice.PlayAudio(ctx, reply.Audio); err != nil {
			tc.system("Could not play audio: " + err.Error())
		}
	}
	return nil
}

func (tc *TermChat) voiceTurn(ctx context.Context) (intake.Reply, error) {
	samples, err := tc.recorder.Record(ctx)
	if err != nil {
		return intake.Reply{}, err
	}
	var wav bytes.Buffer
	if err := voice.EncodeWAV(&wav, samples, tc.recorder.SampleRate()); err != nil {
		return intake.Reply{}, err
	}
	_, reply, err := tc.service.Audio(ctx, tc.session.ID, &wav, "turn.wav")
	return reply, err
}

// handleCommand processes slash commands and reports whether to exit.
func (tc *TermChat) handleCommand(ctx context.Context, command string) (bool, error) {
	switch strings.Fields(command)[0] {
	case "/end":
		_, report, err := tc.service.End(ctx, tc.session.ID)
		if err != nil {
			var callErr *mcp.CallError
			if errors.As(err, &callErr) {
				tc.fail(fmt.Errorf("%s failed: %s", callErr.Tool, callErr.PayloadJSON()))
				return false, nil
			}
			if errors.Is(err, intake.ErrNoConversation) {
				tc.system(err.Error())
				return false, nil
			}
			return true, err
		}
		fmt.Fprint(tc.out, tc.render(reportSummaryMarkdown(report)))
		fmt.Fprintln(tc.out, report.Rendered)
		return true, nil
	case "/history":
		session, err := tc.service.Get(ctx, tc.session.ID)
		if err != nil {
			return false, err
		}
		fmt.Fprintln(tc.out, session.Transcript())
	case "/exit", "/quit":
		tc.system("Call abandoned without a report.")
		return true, nil
	case "/help":
		tc.system("/end finish the call and triage, /history show the transcript, /exit quit without a report")
	default:
		tc.system("Unknown command: " + command)
	}
	return false, nil
}

func (tc *TermChat) render(markdown string) string {
	out, err := tc.renderer.Render(markdown)
	if err != nil {
		return markdown + "\n"
	}
	return out
}

func (tc *TermChat) system(msg string) {
	fmt.Fprintln(tc.out, chatStyles.System.Render(msg))
}

func (tc *TermChat) fail(err error) {
	fmt.Fprintln(tc.out, chatStyles.Error.Render("Error: "+err.Error()))
}

func reportSummaryMarkdown(r *store.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Triage result: %s\n\n", strings.ToUpper(string(r.Urgency)))
	if r.Recommendation != "" {
		fmt.Fprintf(&b, "**Recommendation:** %s\n\n", r.Recommendation)
	}
	fmt.Fprintf(&b, "**Appointment:** %s with a %s\n\n", r.Appointment.Slot, r.Appointment.Speciality)
	fmt.Fprintf(&b, "**Care team:** %s\n", r.Notification.Status)
	return b.String()
}
