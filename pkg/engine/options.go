package engine

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sanonone/gatekv/pkg/persistence"
)

// Domain selects which kind of concurrent callers the access controller
// coordinates.
type Domain string

const (
	// DomainThread coordinates goroutines of one process (in-memory semaphores).
	DomainThread Domain = "thread"
	// DomainProcess coordinates processes sharing the same Location (flock).
	DomainProcess Domain = "process"
)

// Defaults for Options.
const (
	// DefaultLocation is the snapshot file used when Options.Location is empty.
	DefaultLocation = "gatekv.db"
	// DefaultReaderCapacity is the number of readers admitted at once.
	DefaultReaderCapacity = 10
	// DefaultAdmissionWait is how long a reader waits for a free slot before being rejected.
	DefaultAdmissionWait = 1 * time.Second
	// DefaultLockPollInterval is the retry period of blocked process-domain locks.
	DefaultLockPollInterval = 2 * time.Millisecond
)

// ErrInvalidOptions is wrapped by every Options validation failure.
var ErrInvalidOptions = errors.New("invalid options")

// Options configures an AccessController. All fields are fixed at Open.
type Options struct {
	// Domain is "thread" (default) or "process".
	Domain Domain `yaml:"domain"`

	// ReaderCapacity is the maximum number of concurrent readers (default 10).
	ReaderCapacity int `yaml:"reader_capacity"`

	// Location is the path of the snapshot file. In the process domain the
	// lock files are created next to it, named <Location>.*.lock.
	Location string `yaml:"location"`

	// AdmissionWait bounds how long Get waits for a reader slot.
	// Zero means a read is admitted only if a slot is free right now.
	AdmissionWait time.Duration `yaml:"admission_wait"`

	// LockPollInterval is how often blocked process-domain acquisitions retry.
	LockPollInterval time.Duration `yaml:"lock_poll_interval"`

	// Retry bounds snapshot load/save attempts.
	Retry persistence.RetryPolicy `yaml:"retry"`

	// Logger receives structured logs. Nil means slog.Default().
	Logger *slog.Logger `yaml:"-"`
}

// DefaultOptions returns a thread-domain configuration with 10 reader slots,
// a one second admission wait and the snapshot stored at DefaultLocation.
func DefaultOptions() Options {
	return Options{
		Domain:           DomainThread,
		ReaderCapacity:   DefaultReaderCapacity,
		Location:         DefaultLocation,
		AdmissionWait:    DefaultAdmissionWait,
		LockPollInterval: DefaultLockPollInterval,
		Retry:            persistence.DefaultRetryPolicy(),
	}
}

// Validate reports the first unusable field.
func (o Options) Validate() error {
	switch o.Domain {
	case DomainThread, DomainProcess:
	default:
		return fmt.Errorf("%w: domain %q (want %q or %q)", ErrInvalidOptions, o.Domain, DomainThread, DomainProcess)
	}
	if o.ReaderCapacity < 1 {
		return fmt.Errorf("%w: reader_capacity must be positive, got %d", ErrInvalidOptions, o.ReaderCapacity)
	}
	if o.Location == "" {
		return fmt.Errorf("%w: location is empty", ErrInvalidOptions)
	}
	if o.AdmissionWait < 0 {
		return fmt.Errorf("%w: admission_wait must not be negative", ErrInvalidOptions)
	}
	if o.LockPollInterval < 0 {
		return fmt.Errorf("%w: lock_poll_interval must not be negative", ErrInvalidOptions)
	}
	if err := o.Retry.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	return nil
}

// LoadOptions reads a YAML configuration file using strict parsing.
// Fields missing from the file keep their DefaultOptions value; an empty
// path returns the defaults.
func LoadOptions(path string) (Options, error) {
	opts := DefaultOptions()

	if path == "" {
		return opts, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return opts, fmt.Errorf("failed to open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)

	// An empty file decodes to io.EOF and keeps the defaults.
	if err := decoder.Decode(&opts); err != nil && !errors.Is(err, io.EOF) {
		return opts, fmt.Errorf("YAML syntax error in config: %w", err)
	}

	if err := opts.Validate(); err != nil {
		return opts, err
	}
	return opts, nil
}
