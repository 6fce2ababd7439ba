package cfg

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/arkime-go/capture/printer"
)

// Compression is the writer's codec selection (s3Compression).
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionGzip Compression = "gzip"
	CompressionZstd Compression = "zstd"
)

// Config is the typed view over every option named in the external
// configuration surface (spec §6): an ini-style file plus repeated
// "--option K=V" CLI overrides. Unknown keys are logged and ignored
// rather than rejected.
type Config struct {
	// Capture
	Interface string
	BPF       string
	SnapLen   int
	PcapFile  string
	PcapDir   string

	// Threading
	PacketThreads int

	// TPACKETv3 (live capture)
	TPacketV3BlockSize  int
	TPacketV3NumThreads int
	TPacketV3ClusterID  int
	TPacketV3OldVlan    bool

	// Writer
	PcapWriteSize          int
	MaxFileSizeB           int64
	MaxFileTimeM           int
	S3Bucket               string
	S3Region               string
	S3Host                 string
	S3Compression          Compression
	S3CompressionLevel     int
	S3CompressionBlockSize int
	S3StorageClass         string
	S3MaxConns             int
	S3MaxRequests          int
	S3UseHTTP              bool
	S3UseTokenForMetadata  bool
	S3UseECSEnv            bool

	// Protocol dissectors
	DHCPTimeout int

	// Node identity, used to namespace written files and emitted metadata.
	Node string
}

// Defaults mirror the values documented in spec §4.G and §6: 5 MiB writer
// parts, 5 TiB (or 8 GiB when compressed) file cap, 100 KiB forced
// compression block boundaries, the libpcap-compatible default snap length.
func Defaults() Config {
	return Config{
		SnapLen:                262144,
		PacketThreads:           2,
		TPacketV3BlockSize:      1 << 22,
		TPacketV3NumThreads:     1,
		TPacketV3ClusterID:      0,
		TPacketV3OldVlan:        false,
		PcapWriteSize:           5 * 1024 * 1024,
		MaxFileSizeB:            5 * 1024 * 1024 * 1024 * 1024, // 5 TiB
		MaxFileTimeM:            0,
		S3Compression:           CompressionNone,
		S3CompressionLevel:      6,
		S3CompressionBlockSize:  100 * 1024,
		S3StorageClass:          "STANDARD",
		S3MaxConns:              20,
		S3MaxRequests:           20,
		DHCPTimeout:             30,
		Node:                    "capture",
	}
}

// maxCompressedFileSizeB is the 8 GiB (2^33 bytes) ceiling the writer enforces when
// compression is enabled, so that a packed file-position's 33-bit
// compressed-offset range never overflows (§4.G).
const maxCompressedFileSizeB int64 = 1 << 33

// maxFileSizeCapB is the hard 5 TiB ceiling regardless of compression.
const maxFileSizeCapB int64 = 5 * 1024 * 1024 * 1024 * 1024

// EffectiveMaxFileSizeB applies the writer's two size caps on top of the
// user-configured value.
func (c Config) EffectiveMaxFileSizeB() int64 {
	max := c.MaxFileSizeB
	if max <= 0 || max > maxFileSizeCapB {
		max = maxFileSizeCapB
	}
	if c.S3Compression != CompressionNone && max > maxCompressedFileSizeB {
		max = maxCompressedFileSizeB
	}
	return max
}

// Load reads an ini-style config file (if path is non-empty) into a fresh
// viper instance, then applies this process's view of defaults before any
// --option overrides are layered on with Apply.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigType("ini")

	cfg := Defaults()
	bindDefaults(v, cfg)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return cfg, errors.Wrapf(err, "failed to read config file %s", path)
		}
	}

	return fromViper(v, cfg), nil
}

func bindDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("interface", cfg.Interface)
	v.SetDefault("bpf", cfg.BPF)
	v.SetDefault("snapLen", cfg.SnapLen)
	v.SetDefault("packetThreads", cfg.PacketThreads)
	v.SetDefault("tpacketv3BlockSize", cfg.TPacketV3BlockSize)
	v.SetDefault("tpacketv3NumThreads", cfg.TPacketV3NumThreads)
	v.SetDefault("tpacketv3ClusterId", cfg.TPacketV3ClusterID)
	v.SetDefault("tpacketv3OldVlan", cfg.TPacketV3OldVlan)
	v.SetDefault("pcapWriteSize", cfg.PcapWriteSize)
	v.SetDefault("maxFileSizeB", cfg.MaxFileSizeB)
	v.SetDefault("maxFileTimeM", cfg.MaxFileTimeM)
	v.SetDefault("s3Bucket", cfg.S3Bucket)
	v.SetDefault("s3Region", cfg.S3Region)
	v.SetDefault("s3Host", cfg.S3Host)
	v.SetDefault("s3Compression", string(cfg.S3Compression))
	v.SetDefault("s3CompressionLevel", cfg.S3CompressionLevel)
	v.SetDefault("s3CompressionBlockSize", cfg.S3CompressionBlockSize)
	v.SetDefault("s3StorageClass", cfg.S3StorageClass)
	v.SetDefault("s3MaxConns", cfg.S3MaxConns)
	v.SetDefault("s3MaxRequests", cfg.S3MaxRequests)
	v.SetDefault("s3UseHttp", cfg.S3UseHTTP)
	v.SetDefault("s3UseTokenForMetadata", cfg.S3UseTokenForMetadata)
	v.SetDefault("s3UseECSEnv", cfg.S3UseECSEnv)
	v.SetDefault("dhcpTimeout", cfg.DHCPTimeout)
	v.SetDefault("node", cfg.Node)
}

func fromViper(v *viper.Viper, cfg Config) Config {
	cfg.Interface = v.GetString("interface")
	cfg.BPF = v.GetString("bpf")
	cfg.SnapLen = v.GetInt("snapLen")
	cfg.PacketThreads = v.GetInt("packetThreads")
	cfg.TPacketV3BlockSize = v.GetInt("tpacketv3BlockSize")
	cfg.TPacketV3NumThreads = v.GetInt("tpacketv3NumThreads")
	cfg.TPacketV3ClusterID = v.GetInt("tpacketv3ClusterId")
	cfg.TPacketV3OldVlan = v.GetBool("tpacketv3OldVlan")
	cfg.PcapWriteSize = v.GetInt("pcapWriteSize")
	cfg.MaxFileSizeB = v.GetInt64("maxFileSizeB")
	cfg.MaxFileTimeM = v.GetInt("maxFileTimeM")
	cfg.S3Bucket = v.GetString("s3Bucket")
	cfg.S3Region = v.GetString("s3Region")
	cfg.S3Host = v.GetString("s3Host")
	cfg.S3Compression = Compression(v.GetString("s3Compression"))
	cfg.S3CompressionLevel = v.GetInt("s3CompressionLevel")
	cfg.S3CompressionBlockSize = v.GetInt("s3CompressionBlockSize")
	cfg.S3StorageClass = v.GetString("s3StorageClass")
	cfg.S3MaxConns = v.GetInt("s3MaxConns")
	cfg.S3MaxRequests = v.GetInt("s3MaxRequests")
	cfg.S3UseHTTP = v.GetBool("s3UseHttp")
	cfg.S3UseTokenForMetadata = v.GetBool("s3UseTokenForMetadata")
	cfg.S3UseECSEnv = v.GetBool("s3UseECSEnv")
	cfg.DHCPTimeout = v.GetInt("dhcpTimeout")
	cfg.Node = v.GetString("node")
	return cfg
}

// knownKeys lets Apply warn (not fail) on an unrecognized --option K=V, per
// spec §6 ("Unknown keys are ignored with a warning").
var knownKeys = map[string]func(*Config, string) error{
	"interface":              func(c *Config, s string) error { c.Interface = s; return nil },
	"bpf":                    func(c *Config, s string) error { c.BPF = s; return nil },
	"snapLen":                intSetter(func(c *Config, n int) { c.SnapLen = n }),
	"packetThreads":          intSetter(func(c *Config, n int) { c.PacketThreads = n }),
	"tpacketv3BlockSize":     intSetter(func(c *Config, n int) { c.TPacketV3BlockSize = n }),
	"tpacketv3NumThreads":    intSetter(func(c *Config, n int) { c.TPacketV3NumThreads = n }),
	"tpacketv3ClusterId":     intSetter(func(c *Config, n int) { c.TPacketV3ClusterID = n }),
	"tpacketv3OldVlan":       boolSetter(func(c *Config, b bool) { c.TPacketV3OldVlan = b }),
	"pcapWriteSize":          intSetter(func(c *Config, n int) { c.PcapWriteSize = n }),
	"maxFileSizeB":           int64Setter(func(c *Config, n int64) { c.MaxFileSizeB = n }),
	"maxFileTimeM":           intSetter(func(c *Config, n int) { c.MaxFileTimeM = n }),
	"s3Bucket":               func(c *Config, s string) error { c.S3Bucket = s; return nil },
	"s3Region":               func(c *Config, s string) error { c.S3Region = s; return nil },
	"s3Host":                 func(c *Config, s string) error { c.S3Host = s; return nil },
	"s3Compression":          func(c *Config, s string) error { c.S3Compression = Compression(s); return nil },
	"s3CompressionLevel":     intSetter(func(c *Config, n int) { c.S3CompressionLevel = n }),
	"s3CompressionBlockSize": intSetter(func(c *Config, n int) { c.S3CompressionBlockSize = n }),
	"s3StorageClass":         func(c *Config, s string) error { c.S3StorageClass = s; return nil },
	"s3MaxConns":             intSetter(func(c *Config, n int) { c.S3MaxConns = n }),
	"s3MaxRequests":          intSetter(func(c *Config, n int) { c.S3MaxRequests = n }),
	"s3UseHttp":              boolSetter(func(c *Config, b bool) { c.S3UseHTTP = b }),
	"s3UseTokenForMetadata":  boolSetter(func(c *Config, b bool) { c.S3UseTokenForMetadata = b }),
	"s3UseECSEnv":            boolSetter(func(c *Config, b bool) { c.S3UseECSEnv = b }),
	"dhcpTimeout":            intSetter(func(c *Config, n int) { c.DHCPTimeout = n }),
	"node":                   func(c *Config, s string) error { c.Node = s; return nil },
}

func intSetter(set func(*Config, int)) func(*Config, string) error {
	return func(c *Config, s string) error {
		n, err := strconv.Atoi(s)
		if err != nil {
			return err
		}
		set(c, n)
		return nil
	}
}

func int64Setter(set func(*Config, int64)) func(*Config, string) error {
	return func(c *Config, s string) error {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return err
		}
		set(c, n)
		return nil
	}
}

func boolSetter(set func(*Config, bool)) func(*Config, string) error {
	return func(c *Config, s string) error {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return err
		}
		set(c, b)
		return nil
	}
}

// Apply overlays repeated "--option K=V" CLI entries onto cfg, in order.
func Apply(cfg Config, options []string) Config {
	for _, opt := range options {
		k, v, ok := strings.Cut(opt, "=")
		if !ok {
			printer.Warningf("ignoring malformed --option %q (want K=V)\n", opt)
			continue
		}
		setter, known := knownKeys[k]
		if !known {
			printer.Warningf("ignoring unknown config option %q\n", k)
			continue
		}
		if err := setter(&cfg, v); err != nil {
			printer.Warningf("ignoring invalid value for %q: %v\n", k, err)
		}
	}
	return cfg
}

// TokenizeOptionValue splits a quoted shell-style value the same way the
// command-socket's line parser does (arkime's command.c uses
// g_shell_parse_argv), so a "--option K=\"a b\"" value containing embedded
// spaces survives intact. Only single and double quoting plus backslash
// escapes are supported; this is not a full POSIX shell grammar.
func TokenizeOptionValue(s string) ([]string, error) {
	var tokens []string
	var cur strings.Builder
	inToken := false

	var quote rune
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else if r == '\\' && quote == '"' && i+1 < len(runes) {
				i++
				cur.WriteRune(runes[i])
			} else {
				cur.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			inToken = true
		case r == ' ' || r == '\t':
			if inToken {
				tokens = append(tokens, cur.String())
				cur.Reset()
				inToken = false
			}
		case r == '\\' && i+1 < len(runes):
			i++
			cur.WriteRune(runes[i])
			inToken = true
		default:
			cur.WriteRune(r)
			inToken = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated quote in %q", s)
	}
	if inToken {
		tokens = append(tokens, cur.String())
	}
	return tokens, nil
}