// vebridge-cli feeds typed VE.Direct lines to frame assembler and shows the outcome.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	prompt "github.com/c-bata/go-prompt"
	"github.com/juju/errors"
	"github.com/temoto/vebridge/helpers/cli"
	"github.com/temoto/vebridge/internal/config"
	"github.com/temoto/vebridge/log2"
	"github.com/temoto/vebridge/vedirect"
)

const usage = `syntax: one input per line, escapes \t \r \n \\ \xHH
missing line terminator is added as \r\n
(commands)
- :mode checksum|sentinel   restart assembler in given mode
- :fix [KEY]                show checksum line that completes pending frame
- :reset                    drop pending frame
- :stat                     outcome counters
- :help                     this text
`

var log = log2.NewStderr(log2.LInfo)

func main() {
	cmdline := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	configPath := cmdline.String("config", config.DefaultPath, "HCL config file for frame options")
	_ = cmdline.Parse(os.Args[1:])

	log.SetFlags(0)
	fs, err := config.NewOsFullReader(".")
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	cfg, err := config.Load(log, fs, config.ConfigSource{Name: *configPath, Optional: true}, os.Getenv)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}

	c := newConsole(os.Stdout, cfg.FrameOptions(), cfg.Mqtt.TopicPrefix, cfg.Frame.ReservedChars)
	fmt.Fprint(os.Stdout, usage)
	if err := cli.MainLoop("vebridge-cli", c.exec, newCompleter()); err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
}

func newCompleter() func(d prompt.Document) []prompt.Suggest {
	suggests := []prompt.Suggest{
		{Text: ":mode", Description: "checksum|sentinel"},
		{Text: ":fix", Description: "show checksum line for pending frame"},
		{Text: ":reset", Description: "drop pending frame"},
		{Text: ":stat", Description: "outcome counters"},
		{Text: ":help", Description: "usage"},
	}
	return func(d prompt.Document) []prompt.Suggest {
		return prompt.FilterHasPrefix(suggests, d.GetWordBeforeCursor(), true)
	}
}

type console struct {
	w        io.Writer
	opt      vedirect.Options
	asm      *vedirect.Assembler
	prefix   string
	reserved string
	now      func() time.Time
}

func newConsole(w io.Writer, opt vedirect.Options, prefix, reserved string) *console {
	return &console{
		w:        w,
		opt:      opt,
		asm:      vedirect.NewAssembler(opt),
		prefix:   prefix,
		reserved: reserved,
		now:      time.Now,
	}
}

func (c *console) exec(line string) {
	if line == "" {
		return
	}
	if strings.HasPrefix(line, ":") {
		words := strings.Fields(line)
		if c.command(words[0], words[1:]) {
			return
		}
	}
	b, err := cli.Unescape(line)
	if err != nil {
		fmt.Fprintf(c.w, "error: %v\n", err)
		return
	}
	if !strings.HasSuffix(string(b), "\n") {
		b = append(b, '\r', '\n')
	}
	for len(b) > 0 {
		i := strings.IndexByte(string(b), '\n')
		c.feed(b[:i+1])
		b = b[i+1:]
	}
}

// command returns false for unknown words, so HEX lines like ":A0102000543" are fed as data.
func (c *console) command(name string, args []string) bool {
	switch name {
	case ":help":
		fmt.Fprint(c.w, usage)
	case ":mode":
		if len(args) != 1 {
			fmt.Fprintf(c.w, "mode=%s\n", c.opt.Mode)
			return true
		}
		mode, err := vedirect.ParseMode(args[0])
		if err != nil {
			fmt.Fprintf(c.w, "error: %v\n", err)
			return true
		}
		c.opt.Mode = mode
		c.asm = vedirect.NewAssembler(c.opt)
		fmt.Fprintf(c.w, "mode=%s\n", mode)
	case ":fix":
		key := c.opt.ChecksumField
		if len(args) > 0 {
			key = args[0]
		}
		if c.opt.Mode != vedirect.ModeChecksum || c.asm.State() != vedirect.StateAccumulating {
			fmt.Fprintf(c.w, "no pending frame in checksum mode\n")
			return true
		}
		fmt.Fprintf(c.w, "%q\n", vedirect.ChecksumLine(c.asm.Raw(), key))
	case ":reset":
		fmt.Fprintf(c.w, "%s\n", c.asm.Reset())
	case ":stat":
		fmt.Fprintf(c.w, "state=%s records=%d %s\n", c.asm.State(), c.asm.Count(), c.asm.Stat())
	default:
		return false
	}
	return true
}

func (c *console) feed(line []byte) {
	now := c.now()
	if o := c.asm.Tick(now); o.Discarded() {
		fmt.Fprintf(c.w, "%s\n", o)
	}
	frame, o := c.asm.Feed(line, now)
	switch o {
	case vedirect.OutcomeSkip, vedirect.OutcomePending:
		return
	case vedirect.OutcomeComplete:
		fields := frame.Filtered(c.reserved)
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(c.w, "%s/%s=%s\n", c.prefix, k, fields[k])
		}
		fmt.Fprintf(c.w, "%s/_ts=%d\n", c.prefix, frame.Time.Unix())
	default:
		fmt.Fprintf(c.w, "%s\n", o)
	}
}
