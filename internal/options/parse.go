package options

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/shlex"
	"github.com/inhies/go-bytesize"

	"github.com/orizon-lang/gckit/internal/heap"
)

// Prefix is accepted (and stripped) in front of every options-string token.
const Prefix = "-X:gc:"

type setter func(o *Options, v string) error

var keys = map[string]setter{
	"plan": func(o *Options, v string) error {
		o.Plan = PlanKind(strings.ToLower(v))
		return nil
	},
	"heapsize":          bytesField(func(o *Options) *heap.Extent { return &o.HeapSize }),
	"nurserysize":       nurseryField,
	"fullheapsystemgc":  boolField(func(o *Options) *bool { return &o.FullHeapSystemGC }),
	"ignoresystemgc":    boolField(func(o *Options) *bool { return &o.IgnoreSystemGC }),
	"verbose":           intField(func(o *Options) *int { return &o.Verbose }),
	"cycledetection":    boolField(func(o *Options) *bool { return &o.CycleDetection }),
	"sanitytracing":     boolField(func(o *Options) *bool { return &o.SanityTracing }),
	"pollfrequency":     intField(func(o *Options) *int { return &o.PollFrequency }),
	"losthreshold":      bytesField(func(o *Options) *heap.Extent { return &o.LOSThreshold }),
	"copyfudgepages":    intField(func(o *Options) *int { return &o.CopyFudgePages }),
	"fullheapthreshold": bytesField(func(o *Options) *heap.Extent { return &o.FullHeapThreshold }),
	"lockslowthreshold": durationField(func(o *Options) *time.Duration { return &o.LockSlowThreshold }),
	"decquanta":         intField(func(o *Options) *int { return &o.DecQuanta }),
	"dectimefraction": func(o *Options, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		o.DecTimeFraction = f
		return nil
	},
	"pausetimegoal": durationField(func(o *Options) *time.Duration { return &o.PauseTimeGoal }),
	"collectors":    intField(func(o *Options) *int { return &o.Collectors }),
}

func boolField(f func(*Options) *bool) setter {
	return func(o *Options, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*f(o) = b
		return nil
	}
}

func intField(f func(*Options) *int) setter {
	return func(o *Options, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*f(o) = n
		return nil
	}
}

func bytesField(f func(*Options) *heap.Extent) setter {
	return func(o *Options, v string) error {
		n, err := ParseSize(v)
		if err != nil {
			return err
		}
		*f(o) = n
		return nil
	}
}

func durationField(f func(*Options) *time.Duration) setter {
	return func(o *Options, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*f(o) = d
		return nil
	}
}

func nurseryField(o *Options, v string) error {
	if strings.EqualFold(v, "unbounded") {
		o.NurserySize = Unbounded
		return nil
	}
	n, err := ParseSize(v)
	if err != nil {
		return err
	}
	o.NurserySize = n
	return nil
}

// ParseSize accepts a plain byte count or a size with a unit ("512KB",
// "1.5 MB").
func ParseSize(v string) (heap.Extent, error) {
	v = strings.TrimSpace(v)
	if n, err := strconv.ParseUint(v, 10, 64); err == nil {
		return heap.Extent(n), nil
	}
	b, err := bytesize.Parse(v)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", v, err)
	}
	return heap.Extent(b), nil
}

// FormatSize renders n with a binary unit.
func FormatSize(n heap.Extent) string { return bytesize.New(float64(n)).String() }

// Set applies one key=value pair. Keys are case-insensitive.
func (o *Options) Set(key, value string) error {
	set, ok := keys[strings.ToLower(key)]
	if !ok {
		return fmt.Errorf("options: unknown option %q", key)
	}
	if err := set(o, value); err != nil {
		return fmt.Errorf("options: %s: %w", key, err)
	}
	return nil
}

// ParseString applies a whitespace-separated list of key=value tokens to
// base. A boolean key without a value means true.
func ParseString(s string, base Options) (Options, error) {
	tokens, err := shlex.Split(s)
	if err != nil {
		return base, fmt.Errorf("options: %w", err)
	}
	o := base
	for _, tok := range tokens {
		tok = strings.TrimPrefix(tok, Prefix)
		key, value, found := strings.Cut(tok, "=")
		if !found {
			value = "true"
		}
		if err := o.Set(key, value); err != nil {
			return base, err
		}
	}
	if err := o.Validate(); err != nil {
		return base, err
	}
	return o, nil
}
