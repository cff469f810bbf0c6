package tools

import (
	"flag"
	"os"
	"time"

	"github.com/golang/glog"
)

const (
	CommandFetch = "fetch"
	CommandBake  = "bake"
)

const APIKeyEnv = "GOOGLE_MAPS_API_KEY"

type FlagsGlobal struct {
	Help    *bool `json:"help"`
	Version *bool `json:"version"`
}

// Flags shared by every command that bakes tiles
type BakerFlags struct {
	Output         *string `json:"output"`
	Origin         *string `json:"origin"`
	Converter      *string `json:"converter"`
	ManifestFormat *string `json:"manifest_format"`
	MetricsAddr    *string `json:"metrics_addr"`
}

type FlagsForCommandFetch struct {
	BakerFlags
	Config          *string        `json:"config"`
	RootURL         *string        `json:"root_url"`
	Lat             *float64       `json:"lat"`
	Lng             *float64       `json:"lng"`
	Radius          *float64       `json:"radius"`
	Concurrency     *int           `json:"concurrency"`
	Timeout         *time.Duration `json:"timeout"`
	Elevation       *string        `json:"elevation"`
	ElevationOffset *float64       `json:"elevation_offset"`
	Silent          *bool          `json:"silent"`
	LogTimestamp    *bool          `json:"timestamp"`
	Help            *bool          `json:"help"`
	Version         *bool          `json:"version"`

	// not serialized so that it never reaches the logs
	APIKey *string `json:"-"`
}

type FlagsForCommandBake struct {
	BakerFlags
	Config                    *string `json:"config"`
	Input                     *string `json:"input"`
	FolderProcessing          *bool   `json:"folder"`
	RecursiveFolderProcessing *bool   `json:"recursive"`
	Silent                    *bool   `json:"silent"`
	LogTimestamp              *bool   `json:"timestamp"`
	Help                      *bool   `json:"help"`
	Version                   *bool   `json:"version"`
}

func ParseFlagsGlobal() FlagsGlobal {
	help := defineBoolFlag("help", "h", false, "Displays this help.")
	// no shorthand, -v is the glog verbosity
	version := defineBoolFlag("version", "", false, "Displays the version of cesium_tile_baker.")

	flag.Parse()

	return FlagsGlobal{
		Help:    help,
		Version: version,
	}
}

func defineBakerFlags(flagCommand *flag.FlagSet) BakerFlags {
	return BakerFlags{
		Output:         defineStringFlagCommand(flagCommand, "output", "o", "", "Specifies the output folder where to write the baked tiles and the manifest."),
		Origin:         defineStringFlagCommand(flagCommand, "origin", "", "", "Explicit ECEF origin as x,y,z in meters. By default the origin recorded in the output folder is reused, or the first baked tile becomes the origin."),
		Converter:      defineStringFlagCommand(flagCommand, "converter", "", "ELLIPSOID", "Geodetic to ECEF conversion, can be 'ELLIPSOID' or 'PROJ4'."),
		ManifestFormat: defineStringFlagCommand(flagCommand, "manifest-format", "", "json", "Format of the run manifest, can be 'json' or 'yaml'."),
		MetricsAddr:    defineStringFlagCommand(flagCommand, "metrics-addr", "", "", "Serves Prometheus metrics on this address during the run, e.g. ':9100'. Disabled when empty."),
	}
}

func ParseFlagsForCommandFetch(args []string) (FlagsForCommandFetch, error) {
	flagCommand := flag.NewFlagSet("command-fetch", flag.ExitOnError)

	config := defineStringFlagCommand(flagCommand, "config", "c", "", "TOML file with default values for any of these flags, keyed by flag name.")
	apiKey := defineStringFlagCommand(flagCommand, "key", "k", os.Getenv(APIKeyEnv), "API key of the tileset service. Defaults to $"+APIKeyEnv+".")
	rootURL := defineStringFlagCommand(flagCommand, "root-url", "", "https://tile.googleapis.com/v1/3dtiles/root.json", "Root tileset descriptor.")
	lat := defineFloat64FlagCommand(flagCommand, "lat", "", 0, "Latitude of the region center, in degrees.")
	lng := defineFloat64FlagCommand(flagCommand, "lng", "", 0, "Longitude of the region center, in degrees.")
	radius := defineFloat64FlagCommand(flagCommand, "radius", "r", 0, "Radius of the region, in meters.")
	concurrency := defineIntFlagCommand(flagCommand, "concurrency", "j", 16, "Max number of retrievals in flight.")
	timeout := defineDurationFlagCommand(flagCommand, "timeout", "", 60*time.Second, "Timeout of a single request.")
	elevation := defineStringFlagCommand(flagCommand, "elevation", "", "NONE", "Source of the region center elevation, can be 'NONE' or 'GOOGLE'.")
	elevationOffset := defineFloat64FlagCommand(flagCommand, "elevation-offset", "", 0, "Region center elevation in meters when elevation is NONE.")
	bakerFlags := defineBakerFlags(flagCommand)
	silent := defineBoolFlagCommand(flagCommand, "silent", "s", false, "Use to suppress all the non-error messages.")
	logTimestamp := defineBoolFlagCommand(flagCommand, "timestamp", "t", false, "Adds timestamp to log messages.")
	help := defineBoolFlagCommand(flagCommand, "help", "h", false, "Displays this help.")
	version := defineBoolFlagCommand(flagCommand, "version", "v", false, "Displays the version of cesium_tile_baker.")

	flagCommand.Parse(args)

	if *config != "" {
		if err := ApplyConfigFile(flagCommand, *config); err != nil {
			return FlagsForCommandFetch{}, err
		}
	}

	flags := FlagsForCommandFetch{
		BakerFlags:      bakerFlags,
		Config:          config,
		APIKey:          apiKey,
		RootURL:         rootURL,
		Lat:             lat,
		Lng:             lng,
		Radius:          radius,
		Concurrency:     concurrency,
		Timeout:         timeout,
		Elevation:       elevation,
		ElevationOffset: elevationOffset,
		Silent:          silent,
		LogTimestamp:    logTimestamp,
		Help:            help,
		Version:         version,
	}
	glog.Infoln("flags", FmtJSONString(flags))
	return flags, nil
}

func ParseFlagsForCommandBake(args []string) (FlagsForCommandBake, error) {
	flagCommand := flag.NewFlagSet("command-bake", flag.ExitOnError)

	config := defineStringFlagCommand(flagCommand, "config", "c", "", "TOML file with default values for any of these flags, keyed by flag name.")
	input := defineStringFlagCommand(flagCommand, "input", "i", "", "Specifies the input glb file/folder.")
	folderProcessing := defineBoolFlagCommand(flagCommand, "folder", "f", false, "Enables processing of all glb files from input folder. Input must be a folder if specified")
	recursiveFolderProcessing := defineBoolFlagCommand(flagCommand, "recursive", "r", false, "Enables recursive lookup for all .glb files inside the subfolders")
	bakerFlags := defineBakerFlags(flagCommand)
	silent := defineBoolFlagCommand(flagCommand, "silent", "s", false, "Use to suppress all the non-error messages.")
	logTimestamp := defineBoolFlagCommand(flagCommand, "timestamp", "t", false, "Adds timestamp to log messages.")
	help := defineBoolFlagCommand(flagCommand, "help", "h", false, "Displays this help.")
	version := defineBoolFlagCommand(flagCommand, "version", "v", false, "Displays the version of cesium_tile_baker.")

	flagCommand.Parse(args)

	if *config != "" {
		if err := ApplyConfigFile(flagCommand, *config); err != nil {
			return FlagsForCommandBake{}, err
		}
	}

	flags := FlagsForCommandBake{
		BakerFlags:                bakerFlags,
		Config:                    config,
		Input:                     input,
		FolderProcessing:          folderProcessing,
		RecursiveFolderProcessing: recursiveFolderProcessing,
		Silent:                    silent,
		LogTimestamp:              logTimestamp,
		Help:                      help,
		Version:                   version,
	}
	glog.Infoln("flags", FmtJSONString(flags))
	return flags, nil
}

func defineBoolFlag(name string, shortHand string, defaultValue bool, usage string) *bool {
	var output bool
	flag.BoolVar(&output, name, defaultValue, usage)
	if shortHand != name && shortHand != "" {
		flag.BoolVar(&output, shortHand, defaultValue, usage+shorthandUsage(name))
	}
	return &output
}

func defineStringFlagCommand(flagCommand *flag.FlagSet, name string, shortHand string, defaultValue string, usage string) *string {
	var output string
	flagCommand.StringVar(&output, name, defaultValue, usage)
	if shortHand != name && shortHand != "" {
		flagCommand.StringVar(&output, shortHand, defaultValue, usage+shorthandUsage(name))
	}

	return &output
}

func defineIntFlagCommand(flagCommand *flag.FlagSet, name string, shortHand string, defaultValue int, usage string) *int {
	var output int
	flagCommand.IntVar(&output, name, defaultValue, usage)
	if shortHand != name && shortHand != "" {
		flagCommand.IntVar(&output, shortHand, defaultValue, usage+shorthandUsage(name))
	}

	return &output
}

func defineFloat64FlagCommand(flagCommand *flag.FlagSet, name string, shortHand string, defaultValue float64, usage string) *float64 {
	var output float64
	flagCommand.Float64Var(&output, name, defaultValue, usage)
	if shortHand != name && shortHand != "" {
		flagCommand.Float64Var(&output, shortHand, defaultValue, usage+shorthandUsage(name))
	}
	return &output
}

func defineBoolFlagCommand(flagCommand *flag.FlagSet, name string, shortHand string, defaultValue bool, usage string) *bool {
	var output bool
	flagCommand.BoolVar(&output, name, defaultValue, usage)
	if shortHand != name && shortHand != "" {
		flagCommand.BoolVar(&output, shortHand, defaultValue, usage+shorthandUsage(name))
	}
	return &output
}

func defineDurationFlagCommand(flagCommand *flag.FlagSet, name string, shortHand string, defaultValue time.Duration, usage string) *time.Duration {
	var output time.Duration
	flagCommand.DurationVar(&output, name, defaultValue, usage)
	if shortHand != name && shortHand != "" {
		flagCommand.DurationVar(&output, shortHand, defaultValue, usage+shorthandUsage(name))
	}
	return &output
}
