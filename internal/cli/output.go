package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/example/rideshare/internal/client"
	"github.com/example/rideshare/internal/models"
	"github.com/example/rideshare/internal/ride"
)

// Exit codes for CLI commands.
const (
	ExitSuccess   = 0
	ExitFailure   = 1 // the server refused the request
	ExitTransient = 3 // the server could not be reached; retrying may help
)

// ExitCode maps a command error to the process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case ride.Retryable(err):
		return ExitTransient
	}
	return ExitFailure
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer
	Verbose   bool
}

// Success writes data as JSON, or text as-is in text mode.
func (f *OutputFormatter) Success(data any, text string) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(data)
	}
	_, err := fmt.Fprintln(f.Writer, text)
	return err
}

// VerboseLog outputs a message only if verbose mode is enabled.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}

// DescribeError renders an API failure with its kind for the user.
func DescribeError(err error) string {
	var apiErr *client.Error
	if errors.As(err, &apiErr) {
		return fmt.Sprintf("%s: %s", apiErr.Kind, apiErr.Message)
	}
	return err.Error()
}

func userLabel(r models.Ref) string {
	if r.User != nil && r.User.Name != "" {
		return r.User.Name
	}
	return models.ResolveID(r)
}

func formatRide(r *models.Ride) string {
	if r == nil {
		return "no active ride"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s  %s -> %s  %s  [%s]  driver=%s", r.ID, r.From, r.To, r.StartTime.Local().Format(time.DateTime), r.Status, userLabel(r.Driver))
	if r.Passenger != nil {
		fmt.Fprintf(&b, " passenger=%s", userLabel(*r.Passenger))
	}
	return b.String()
}

func formatRides(rides []*models.Ride) string {
	if len(rides) == 0 {
		return "no open rides"
	}
	lines := make([]string, len(rides))
	for i, r := range rides {
		lines[i] = formatRide(r)
	}
	return strings.Join(lines, "\n")
}

func formatUser(u models.UserRef) string {
	s := u.ID
	if u.Name != "" {
		s += " (" + u.Name + ")"
	}
	if u.Rating != nil {
		s += fmt.Sprintf(" rating=%.2f", *u.Rating)
	}
	return s
}

func formatTimeline(tl map[string]time.Time) string {
	if len(tl) == 0 {
		return "no timeline recorded"
	}
	keys := make([]string, 0, len(tl))
	for k := range tl {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return tl[keys[i]].Before(tl[keys[j]]) })
	lines := make([]string, len(keys))
	for i, k := range keys {
		lines[i] = fmt.Sprintf("%-10s %s", k, tl[k].Local().Format(time.DateTime))
	}
	return strings.Join(lines, "\n")
}

func formatView(st client.ViewState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "screen=%s", st.Screen)
	if st.Ride != nil {
		fmt.Fprintf(&b, " ride=%s", st.Ride.ID)
	}
	if st.LockReason != "" {
		fmt.Fprintf(&b, " locked=%q", st.LockReason)
	}
	if actions := client.Actions(st.Screen); len(actions) > 0 {
		names := make([]string, len(actions))
		for i, a := range actions {
			names[i] = string(a)
		}
		fmt.Fprintf(&b, " actions=%s", strings.Join(names, ","))
	}
	return b.String()
}
