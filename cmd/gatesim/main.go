// Command gatesim implements the write_cxxrtl command (spec.md section 6):
// it reads a netlist design and emits a self-contained C++ simulator
// source file (or, with -header, a split interface/implementation pair)
// against the runtime library interface spec.md section 6 describes.
package main

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"gatesim/internal/diag"
	"gatesim/internal/emit"
	"gatesim/internal/netlist"
	"gatesim/internal/pipeline"
)

var log = logrus.New()

// rootCmd is write_cxxrtl itself: spec.md section 6 names no
// subcommands, so the single cobra command IS the root command,
// following Consensys-go-corset's pkg/cmd/root.go wiring collapsed to
// one verb.
var rootCmd = &cobra.Command{
	Use:   "write_cxxrtl [options] [filename]",
	Short: "Compile a netlist into a cxxrtl-style C++ simulator.",
	Long: `write_cxxrtl reads a netlist design (JSON, on stdin unless
-design names a file) and emits a self-contained C++ simulator source
file. With -header, the interface declarations are split into a
companion "<filename-without-ext>.h" header.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWriteCxxrtl,
}

func init() {
	rootCmd.Flags().Bool("header", false, "split output into an implementation file and a header")
	rootCmd.Flags().String("namespace", "cxxrtl_design", "C++ namespace to wrap the generated code in")
	rootCmd.Flags().IntP("O", "O", 5, "optimization level, 0-5")
	rootCmd.Flags().BoolP("verbose", "v", false, "raise logging verbosity to debug")
	rootCmd.Flags().String("design", "", "path to the input netlist JSON document (default: stdin)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runWriteCxxrtl(cmd *cobra.Command, args []string) error {
	header, _ := cmd.Flags().GetBool("header")
	namespace, _ := cmd.Flags().GetString("namespace")
	level, _ := cmd.Flags().GetInt("O")
	verbose, _ := cmd.Flags().GetBool("verbose")
	designPath, _ := cmd.Flags().GetString("design")

	if verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	var outputPath string
	if len(args) == 1 {
		outputPath = args[0]
	}
	if header && (outputPath == "" || outputPath == "-") {
		return errors.New("write_cxxrtl: -header requires a non-stdout filename")
	}
	if level < 0 || level > 5 {
		return errors.Errorf("write_cxxrtl: optimization level must be 0-5, got %d", level)
	}

	design, err := loadDesign(designPath)
	if err != nil {
		return errors.Wrap(err, "write_cxxrtl")
	}

	reporter := diag.NewReporter(os.Stderr, "text")

	var headerPath string
	if header {
		headerPath = headerPathFor(outputPath)
	}
	opts := pipeline.Options{
		OptLevel:  level,
		Namespace: namespace,
		Header:    header,
		// The #include argument is always the header's base name: it
		// resolves relative to the implementation file's own directory
		// (spec.md section 6, scenario S6's "out.cc" including "out.h"),
		// never the full path used to create it.
		HeaderPath: filepath.Base(headerPath),
		Log:        log,
	}
	res, err := pipeline.Run(design, opts, reporter)
	if err != nil {
		return errors.Wrap(err, "write_cxxrtl")
	}
	if reporter.HasErrors() {
		return errors.Errorf("write_cxxrtl: %d error(s) reported", reporter.ErrorCount())
	}

	if err := writeOutputs(outputPath, headerPath, res); err != nil {
		return errors.Wrap(err, "write_cxxrtl")
	}
	return nil
}

// loadDesign reads the input netlist JSON document from path, or from
// stdin when path is empty. The netlist container is a consumed
// external interface (spec.md section 6); this is the CLI's one
// concrete way to obtain one, grounded on internal/netlist's loader.
func loadDesign(path string) (*netlist.Design, error) {
	var r io.Reader = os.Stdin
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrap(err, "open design file")
		}
		defer f.Close()
		r = f
	}
	d, err := netlist.LoadDesign(r)
	if err != nil {
		return nil, errors.Wrap(err, "load design")
	}
	return d, nil
}

// headerPathFor derives the split header's filename from the
// implementation output filename, per spec.md section 6: "the header
// path is the filename with its extension replaced by .h".
func headerPathFor(outputPath string) string {
	ext := filepath.Ext(outputPath)
	return strings.TrimSuffix(outputPath, ext) + ".h"
}

// writeOutputs flushes the emitter's buffered result to its destination
// streams, matching spec.md section 7's "no partial output" discipline:
// the emitter has already succeeded end to end by the time this runs, so
// the only remaining failure mode is an I/O error opening a destination,
// which is itself a user-facing error (section 7, "I/O failure opening
// header file").
func writeOutputs(outputPath, headerPath string, res *emit.Result) error {
	if headerPath != "" {
		if err := writeFile(headerPath, res.Header); err != nil {
			return err
		}
	}
	return withOutputWriter(outputPath, func(w io.Writer) error {
		_, err := w.Write(res.Impl)
		return err
	})
}

func writeFile(path string, data []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return err
	}
	return nil
}

// withOutputWriter and outputWriter follow youweizhuo-mygo's
// cmd/mygo/main.go output-writer idiom: "" or "-" means stdout and
// needs no cleanup, anything else is a file that must be closed.
func withOutputWriter(path string, fn func(io.Writer) error) error {
	w, cleanup, err := outputWriter(path)
	if err != nil {
		return err
	}
	if cleanup == nil {
		return fn(w)
	}
	err = fn(w)
	if closeErr := cleanup(); err == nil && closeErr != nil {
		err = closeErr
	}
	return err
}

func outputWriter(path string) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return os.Stdout, nil, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}

func init() {
	cobra.EnableCommandSorting = false
}
