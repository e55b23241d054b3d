package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/alecthomas/kong"

	"github.com/meigma/hapzip"
)

// Globals are the flags shared by every command.
type Globals struct {
	LogLevel    string `kong:"name=log-level,env=HAPZIP_LOG_LEVEL,default=warn,enum='debug,info,warn,error',help='Set log level.'"`
	LogJSON     bool   `kong:"name=log-json,env=HAPZIP_LOG_JSON,default=false,help='Enable JSON logging output.'"`
	CachePolicy string `kong:"name=cache-policy,env=HAPZIP_CACHE_POLICY,default=auto,enum='auto,never,always',help='Directory index strategy.'"`
	NoVerifyCRC bool   `kong:"name=no-verify-crc,env=HAPZIP_NO_VERIFY_CRC,default=false,help='Skip CRC-32 verification of decoded content.'"`

	out    io.Writer
	logger *slog.Logger
}

// Cli is the command line of hapzip.
type Cli struct {
	Globals

	Version kong.VersionFlag `kong:"name=version,help='Print version and exit.'"`

	Ls      LsCmd      `kong:"cmd,help='List entries below a directory.'"`
	Cat     CatCmd     `kong:"cmd,help='Write the decoded content of an entry to stdout.'"`
	Extract ExtractCmd `kong:"cmd,help='Extract a directory of the archive to disk.'"`
	Info    InfoCmd    `kong:"cmd,help='Describe an archive or one of its entries.'"`
}

// archiveOptions translates the global flags into archive options.
func (g *Globals) archiveOptions() []hapzip.Option {
	return []hapzip.Option{
		hapzip.WithLogger(g.logger),
		hapzip.WithCachePolicy(parseCachePolicy(g.CachePolicy)),
		hapzip.WithVerifyCRC(!g.NoVerifyCRC),
	}
}

func (g *Globals) open(path string) (*hapzip.Archive, error) {
	return hapzip.Open(path, g.archiveOptions()...)
}

func parseCachePolicy(name string) hapzip.CachePolicy {
	switch strings.ToLower(name) {
	case "never":
		return hapzip.CacheNever
	case "always":
		return hapzip.CacheAlways
	default:
		return hapzip.CacheAuto
	}
}

// LsCmd lists entries.
type LsCmd struct {
	Archive   string `kong:"arg,required,type=existingfile,help='Archive path.'"`
	Prefix    string `kong:"arg,optional,default='/',help='Directory to list.'"`
	Recursive bool   `kong:"name=recursive,short=r,help='List every file below the directory.'"`
	Long      bool   `kong:"name=long,short=l,help='Show method, sizes and offsets.'"`
}

// Run lists the immediate children of the prefix, or every file below it.
func (c *LsCmd) Run(g *Globals) error {
	a, err := g.open(c.Archive)
	if err != nil {
		return err
	}
	defer a.Close()

	if !c.Recursive {
		names, err := a.ListChildNames(c.Prefix)
		if err != nil {
			return err
		}
		for _, name := range names {
			full := joinPrefix(c.Prefix, name)
			if a.IsDirectory(full) {
				name += "/"
			}
			fmt.Fprintln(g.out, name)
		}
		return nil
	}

	names, err := a.ListFiles(c.Prefix)
	if err != nil {
		return err
	}
	for _, name := range names {
		if !c.Long {
			fmt.Fprintln(g.out, name)
			continue
		}
		info, err := a.FileInfo(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(g.out, "%-7s %10d %10d %10d %s\n", info.Method, info.Length, info.Size, info.Offset, info.Name)
	}
	return nil
}

// joinPrefix builds the archive path of a child listed below prefix.
func joinPrefix(prefix, child string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return child
	}
	return prefix + "/" + child
}

// CatCmd writes one entry.
type CatCmd struct {
	Archive string `kong:"arg,required,type=existingfile,help='Archive path.'"`
	Name    string `kong:"arg,required,help='Entry name.'"`
}

// Run streams the entry to stdout.
func (c *CatCmd) Run(g *Globals) error {
	a, err := g.open(c.Archive)
	if err != nil {
		return err
	}
	defer a.Close()

	_, err = a.ExtractTo(c.Name, g.out)
	return err
}

// ExtractCmd extracts a directory tree.
type ExtractCmd struct {
	Archive       string `kong:"arg,required,type=existingfile,help='Archive path.'"`
	Dest          string `kong:"arg,required,type=path,help='Destination directory.'"`
	Prefix        string `kong:"name=prefix,default='/',help='Directory of the archive to extract.'"`
	Overwrite     bool   `kong:"name=overwrite,env=HAPZIP_OVERWRITE,help='Overwrite existing files.'"`
	PreserveTimes bool   `kong:"name=preserve-times,help='Set modification times from the archive.'"`
	Workers       int    `kong:"name=workers,env=HAPZIP_WORKERS,default=0,help='Parallel workers. 0 uses GOMAXPROCS, negative runs serially.'"`
}

// Run extracts every file below the prefix.
func (c *ExtractCmd) Run(g *Globals) error {
	a, err := g.open(c.Archive)
	if err != nil {
		return err
	}
	defer a.Close()

	return a.ExtractDir(c.Prefix, c.Dest,
		hapzip.ExtractWithOverwrite(c.Overwrite),
		hapzip.ExtractWithPreserveTimes(c.PreserveTimes),
		hapzip.ExtractWithWorkers(c.Workers),
	)
}

// InfoCmd describes an archive or entry.
type InfoCmd struct {
	Archive string `kong:"arg,required,type=existingfile,help='Archive path.'"`
	Name    string `kong:"arg,optional,help='Entry to describe.'"`
}

// Run prints the archive summary, or the validated location of one entry.
func (c *InfoCmd) Run(g *Globals) error {
	a, err := g.open(c.Archive)
	if err != nil {
		return err
	}
	defer a.Close()

	if c.Name == "" {
		model := "legacy"
		if a.IsNewPackagingModel() {
			model = "stage"
		}
		fmt.Fprintf(g.out, "path:    %s\n", a.Path())
		fmt.Fprintf(g.out, "size:    %d\n", a.Size())
		fmt.Fprintf(g.out, "entries: %d\n", a.Len())
		fmt.Fprintf(g.out, "model:   %s\n", model)
		return nil
	}

	info, err := a.FileInfo(c.Name)
	if err != nil {
		return err
	}
	fmt.Fprintf(g.out, "name:     %s\n", info.Name)
	fmt.Fprintf(g.out, "method:   %s\n", info.Method)
	fmt.Fprintf(g.out, "offset:   %d\n", info.Offset)
	fmt.Fprintf(g.out, "length:   %d\n", info.Length)
	fmt.Fprintf(g.out, "size:     %d\n", info.Size)
	fmt.Fprintf(g.out, "crc32:    %08x\n", info.CRC32)
	fmt.Fprintf(g.out, "modified: %s\n", info.ModTime.Format("2006-01-02 15:04:05"))
	if info.Truncated {
		fmt.Fprintln(g.out, "name truncated")
	}
	return nil
}
