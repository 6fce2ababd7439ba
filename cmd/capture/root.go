// Package capture implements the command-line entrypoint: flag parsing
// and config loading for the peripheral surface §6 documents, wired to
// the core engine. A single cobra command with persistent flags bound
// through pflag/viper, trimmed to this engine's flag surface; there is
// no subcommand tree (login, daemon, ...) since none of that has an
// analog here.
package capture

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/arkime-go/capture/cfg"
	"github.com/arkime-go/capture/internal/engine"
	"github.com/arkime-go/capture/internal/freelater"
	"github.com/arkime-go/capture/internal/protocols"
	"github.com/arkime-go/capture/internal/session"
	"github.com/arkime-go/capture/internal/writer"
	"github.com/arkime-go/capture/pcap"
	"github.com/arkime-go/capture/printer"
	"github.com/arkime-go/capture/util"
	"github.com/arkime-go/capture/version"
)

// arkimeLinkType is DLT_EN10MB: every reader hands the engine raw
// Ethernet frames (decap.PeelEthernet is always the first peel), so the
// writer's pcap global header is fixed at this link type regardless of
// capture source.
const arkimeLinkType = 1

var (
	configPath  string
	pcapFile    string
	pcapDir     string
	fileList    string
	nodeName    string
	ifaceName   string
	bpfFilter   string
	options     []string
	dryRun      bool
	recursive   bool
	ignoreErrs  bool
	numWorkers  int
	debugFlag   bool
	verboseFlag int
)

var rootCmd = &cobra.Command{
	Use:           "capture",
	Short:         "Full-packet network-traffic recorder and session indexer.",
	Version:       version.DisplayString(),
	SilenceErrors: true,
	SilenceUsage:  true,
	RunE:          run,
}

// ignoreStringFlags registers flags whose values this engine accepts for
// command-line compatibility with the documented CLI surface (§6) but does
// not act on, because the subsystem they configure (the writer-side
// upload-server pairing, reprocessing, lock files, scheme/provider
// overrides) lives outside the core's scope.
func ignoreStringFlags(fs *pflag.FlagSet, names ...string) {
	var discard string
	for _, name := range names {
		fs.StringVar(&discard, name, "", "accepted for compatibility; not used by this engine")
		_ = fs.MarkHidden(name)
	}
}

func ignoreBoolFlags(fs *pflag.FlagSet, names ...string) {
	var discard bool
	for _, name := range names {
		fs.BoolVar(&discard, name, false, "accepted for compatibility; not used by this engine")
		_ = fs.MarkHidden(name)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "path to the ini-style configuration file")
	flags.StringVarP(&pcapFile, "pcapfile", "r", "", "read packets from a single offline savefile instead of a live interface")
	flags.StringVarP(&pcapDir, "pcapdir", "R", "", "read every savefile in a directory")
	flags.StringVarP(&fileList, "filelist", "F", "", "read the list of savefiles named in this file, one path per line")
	flags.StringVarP(&nodeName, "node", "n", "", "this capture node's identity, used to namespace written files")
	flags.StringVar(&ifaceName, "interface", "", "live interface to capture from (overrides the config file's interface)")
	flags.StringVar(&bpfFilter, "bpf", "", "BPF filter applied to live capture (overrides the config file's bpf)")
	flags.StringArrayVarP(&options, "option", "o", nil, "override a config key, given as K=V; may be repeated")
	flags.BoolVar(&dryRun, "dryrun", false, "run the full pipeline but never upload packets")
	flags.BoolVar(&recursive, "recursive", false, "recurse into subdirectories when --pcapdir is given")
	flags.BoolVar(&ignoreErrs, "insecure", false, "degrade startup config errors to warnings instead of failing (ignoreErrors)")
	flags.IntVar(&numWorkers, "upload-workers", 4, "number of concurrent writer upload goroutines")
	flags.BoolVar(&debugFlag, "debug", false, "enable debug-level log lines")
	flags.IntVarP(&verboseFlag, "verbose", "v", 0, "verbose-log threshold; printer.V(level) lines at or above this fire")
	// printer.Debugf/V read these through viper rather than package
	// globals, matching the teacher's binding of the same two keys in
	// cmd/root.go.
	_ = viper.BindPFlag("debug", flags.Lookup("debug"))
	_ = viper.BindPFlag("verbose-level", flags.Lookup("verbose"))

	ignoreStringFlags(flags, "host", "tag", "op", "scheme", "libpcap", "provider", "profile")
	ignoreBoolFlags(flags, "monitor", "delete", "skip", "reprocess", "copy", "flush", "nolockpcap")
}

// Execute runs the root command, translating a returned util.ExitError
// into the documented process exit code (§6: 0 success, 1 usage or
// startup error).
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		printer.Errorf("%s\n", err)
		var exitErr util.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.ExitCode)
		}
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	c, err := cfg.Load(configPath)
	if err != nil {
		if !ignoreErrs {
			return util.ExitError{ExitCode: 1, Err: err}
		}
		printer.Warningf("config load error degraded to warning (--insecure): %v\n", err)
	}
	c = cfg.Apply(c, options)
	if ifaceName != "" {
		c.Interface = ifaceName
	}
	if bpfFilter != "" {
		c.BPF = bpfFilter
	}
	if nodeName != "" {
		c.Node = nodeName
	}
	if c.Node == "" {
		c.Node = "capture"
	}

	readers, err := buildReaders(c)
	if err != nil {
		return util.ExitError{ExitCode: 1, Err: err}
	}
	if len(readers) == 0 {
		return util.ExitError{ExitCode: 1, Err: errors.New("no capture source: give --pcapfile, --pcapdir, --filelist, or set interface in config")}
	}

	bundle := protocols.Register()
	free := freelater.New(nil)

	eng := engine.New(
		c.PacketThreads,
		1024,
		10000,
		session.DefaultTimeouts(),
		bundle,
		nil, // writer assigned below, once constructed
		free,
		engine.RealClock(),
	)

	var pw engine.PacketWriter
	var quiescer engine.Quiescer = engine.DiscardWriter{}
	var cred engine.CredentialRefresher

	if !dryRun && c.S3Bucket != "" {
		refresher, err := writer.NewCredentialRefresher(c, free)
		if err != nil {
			if !ignoreErrs {
				return util.ExitError{ExitCode: 1, Err: err}
			}
			printer.Warningf("credential resolution degraded to warning (--insecure): %v\n", err)
		} else {
			cred = refresher
			uploader := writer.NewUploader(c, refresher)
			w := writer.New(c, uploader, arkimeLinkType, uint32(c.SnapLen), numWorkers, ignoreErrs)
			pw, quiescer = w, w
		}
	}
	if pw == nil {
		pw = engine.DiscardWriter{}
	}
	eng.Writer = pw

	for _, r := range readers {
		r.Engine = eng
	}

	lc := engine.NewLifecycle(eng, readers, quiescer, cred)
	if err := lc.RunWithSignals(); err != nil {
		return util.ExitError{ExitCode: 1, Err: err}
	}
	return nil
}

// buildReaders resolves the capture-source flags/config into one Reader
// per offline savefile or live interface, per spec §6's scheme registry
// (file://, directory recursion, a bare interface name).
func buildReaders(c cfg.Config) ([]*engine.Reader, error) {
	var paths []string
	switch {
	case pcapFile != "":
		paths = []string{pcapFile}
	case pcapDir != "":
		entries, err := listSavefiles(pcapDir, recursive)
		if err != nil {
			return nil, err
		}
		paths = entries
	case fileList != "":
		entries, err := readFileList(fileList)
		if err != nil {
			return nil, err
		}
		paths = entries
	}

	if len(paths) > 0 {
		readers := make([]*engine.Reader, 0, len(paths))
		for i, path := range paths {
			handle, err := pcap.OpenOffline(path)
			if err != nil {
				return nil, err
			}
			readers = append(readers, &engine.Reader{Source: handle, ReaderIndex: i})
		}
		return readers, nil
	}

	if c.Interface == "" {
		return nil, nil
	}
	handle, err := pcap.OpenLive(c.Interface, c.SnapLen, c.BPF)
	if err != nil {
		return nil, err
	}
	return []*engine.Reader{{Source: handle, ReaderIndex: 0}}, nil
}

func listSavefiles(dir string, recursive bool) ([]string, error) {
	var out []string
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read --pcapdir %s", dir)
	}
	for _, e := range entries {
		full := fmt.Sprintf("%s/%s", dir, e.Name())
		if e.IsDir() {
			if recursive {
				sub, err := listSavefiles(full, recursive)
				if err != nil {
					return nil, err
				}
				out = append(out, sub...)
			}
			continue
		}
		out = append(out, full)
	}
	return out, nil
}

func readFileList(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read --filelist %s", path)
	}
	var out []string
	start := 0
	for i, b := range data {
		if b == '\n' {
			line := string(data[start:i])
			if line != "" && line != "\r" {
				out = append(out, line)
			}
			start = i + 1
		}
	}
	if start < len(data) {
		if line := string(data[start:]); line != "" {
			out = append(out, line)
		}
	}
	return out, nil
}
