package ktl

import (
	"bytes"
	"os/exec"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
)

// Exec is a Service which drives the KTL command line tools.  It is how the
// instrument scripts talk to a live service from any host with the KTL
// client installed
type Exec struct {
	// Name is the KTL service name, e.g. mosfire or mcsus
	Name string

	// Show and Modify are the paths to the show and modify binaries
	Show   string
	Modify string

	// Retries is the number of times a failed read is retried
	Retries uint64
}

// NewExec returns an Exec for a service using show and modify from $PATH
func NewExec(name string) *Exec {
	return &Exec{Name: name, Show: "show", Modify: "modify", Retries: 3}
}

// Read runs show -s <service> -terse <keyword>.  Failures are retried with
// an exponential backoff, the keyword servers drop the odd request under
// load
func (e *Exec) Read(keyword string) (string, error) {
	var out string
	op := func() error {
		cmd := exec.Command(e.Show, "-s", e.Name, "-terse", keyword)
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		err := cmd.Run()
		if err != nil {
			return errors.Wrapf(err, "show %s.%s: %s", e.Name, keyword, strings.TrimSpace(stderr.String()))
		}
		out = strings.TrimRight(stdout.String(), "\r\n")
		return nil
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     50 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      5 * time.Second,
		Clock:               backoff.SystemClock}
	b.Reset()
	err := backoff.Retry(op, backoff.WithMaxRetries(b, e.Retries))
	return out, err
}

// Write runs modify -s <service> <keyword>=<value>, appending wait when the
// call should block for completion.  Writes are not retried
func (e *Exec) Write(keyword, value string, wait bool) error {
	args := []string{"-s", e.Name, keyword + "=" + value}
	if wait {
		args = append(args, "wait")
	}
	cmd := exec.Command(e.Modify, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, "modify %s.%s: %s", e.Name, keyword, strings.TrimSpace(string(out)))
	}
	return nil
}
