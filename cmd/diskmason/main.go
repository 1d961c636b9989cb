package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/diskmason/diskmason/internal/assembler"
	"github.com/diskmason/diskmason/internal/buildvars"
	"github.com/diskmason/diskmason/internal/kickstart"
	"github.com/diskmason/diskmason/internal/layout"
	"github.com/diskmason/diskmason/internal/plugin"

	_ "github.com/diskmason/diskmason/internal/plugin/fsimage"
	_ "github.com/diskmason/diskmason/internal/plugin/imager"
	_ "github.com/diskmason/diskmason/internal/plugin/source"
)

var (
	configFile string
	verbose    bool

	wksFile         string
	varsFile        string
	outDir          string
	workDir         string
	preserveScratch bool
	workers         int
)

var rootCmd = &cobra.Command{
	Use:           "diskmason",
	Short:         "Build bootable partitioned disk images from declarative layout documents",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			logrus.SetLevel(logrus.DebugLevel)
		}
	},
}

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Build a disk image from a layout document and build metadata",
	RunE:  runCreate,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Parse and plan a layout document without building anything",
	RunE:  runValidate,
}

var listPluginsCmd = &cobra.Command{
	Use:   "list-plugins",
	Short: "List the registered source, filesystem and imager plugins",
	Run: func(cmd *cobra.Command, args []string) {
		for _, kind := range []plugin.Kind{plugin.KindSource, plugin.KindFilesystem, plugin.KindImager} {
			fmt.Printf("%s:\n", kind)
			for _, name := range plugin.Names(kind) {
				fmt.Printf("  %s\n", name)
			}
		}
	},
}

func layoutFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&wksFile, "wks", "", "layout document to build")
	cmd.Flags().StringVar(&varsFile, "vars", "", "build variables file (KEY=\"value\" lines)")
}

func main() {
	plugin.Seal()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "/etc/diskmason/diskmason.toml", "tool configuration file")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable debug logging")

	layoutFlags(createCmd)
	createCmd.Flags().StringVar(&outDir, "outdir", "", "directory for the output image")
	createCmd.Flags().StringVar(&workDir, "workdir", "", "parent directory for the scratch workspace")
	createCmd.Flags().BoolVar(&preserveScratch, "preserve-scratch", false, "keep the scratch workspace when the build fails")
	createCmd.Flags().IntVar(&workers, "workers", 0, "concurrent partition staging bound (0 = from config)")
	layoutFlags(validateCmd)

	rootCmd.AddCommand(createCmd, validateCmd, listPluginsCmd)

	if err := rootCmd.Execute(); err != nil {
		logrus.Error(err)
		os.Exit(exitCode(err))
	}
}

func loadInputs() (*buildvars.Context, *kickstart.Document, error) {
	if wksFile == "" {
		return nil, nil, &usageError{msg: "a layout document is required, pass --wks"}
	}
	if varsFile == "" {
		return nil, nil, &usageError{msg: "a build variables file is required, pass --vars"}
	}
	bctx, err := buildvars.Load(varsFile)
	if err != nil {
		return nil, nil, err
	}
	doc, err := kickstart.ParseFile(wksFile, bctx)
	if err != nil {
		return nil, nil, err
	}
	return bctx, doc, nil
}

func runCreate(cmd *cobra.Command, args []string) error {
	cfg, err := parseConfig(configFile)
	if err != nil {
		return err
	}
	bctx, doc, err := loadInputs()
	if err != nil {
		return err
	}

	opts := assembler.Options{
		Workers:         cfg.Workers,
		ScratchDir:      cfg.ScratchDir,
		PreserveScratch: cfg.PreserveScratch || preserveScratch,
		Layout:          layout.Options{MinSlack: cfg.MinSlack},
	}
	if workers > 0 {
		opts.Workers = workers
	}
	if workDir != "" {
		opts.ScratchDir = workDir
	}
	if outDir != "" {
		name := bctx.ImageName() + ".img"
		if doc.Directives.Output != "" {
			name = filepath.Base(doc.Directives.Output)
		}
		opts.Output = filepath.Join(outDir, name)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := assembler.New(doc, bctx, opts).Run(ctx)
	if err != nil {
		if opts.PreserveScratch {
			return &diagnosticsKeptError{err: err}
		}
		return err
	}

	fmt.Println(res.OutputPath)
	return nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	_, doc, err := loadInputs()
	if err != nil {
		return err
	}
	plan, err := layout.New(doc.Partitions, doc.Directives, layout.Options{})
	if err != nil {
		return err
	}

	fmt.Printf("%s: %d partitions, %s table, imager %q\n",
		wksFile, len(plan.Partitions), plan.TableType, doc.Directives.Imager)
	for i := range plan.Partitions {
		p := &plan.Partitions[i]
		size := "content-sized"
		switch p.SizePolicy {
		case kickstart.SizeExplicit:
			size = humanize.IBytes(p.Size)
			if p.FixedSize {
				size += " (fixed)"
			}
		case kickstart.SizeFill:
			size = "fill"
		}
		fmt.Printf("  %d: %s %s\n", p.Ordinal, p.Name(), size)
	}
	if unresolved := plan.Unresolved(); len(unresolved) > 0 {
		fmt.Printf("content-sized partitions (settled during build): %v\n", unresolved)
	}
	return nil
}
