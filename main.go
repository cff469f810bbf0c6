/*
 * This file is part of the Go Cesium Point Cloud Tiler distribution (https://github.com/mfbonfigli/gocesiumtiler).
 * Copyright (c) 2019 Massimo Federico Bonfigli - m.federico.bonfigli@gmail.com
 *
 * This program is free software; you can redistribute it and/or modify it
 * under the terms of the GNU Lesser General Public License Version 3 as
 * published by the Free Software Foundation;
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
 * Lesser General Public License for more details.
 *
 * You should have received a copy of the GNU Lesser General Public License
 * along with this program. If not, see <http://www.gnu.org/licenses/>.
 *
 * This software also uses third party components. You can find information
 * on their credits and licensing in the file LICENSE-3RD-PARTIES.md that
 * you should have received togheter with the source code.
 */

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ecopia-map/cesium_tile_baker/internal/fetch"
	"github.com/ecopia-map/cesium_tile_baker/internal/manifest"
	"github.com/ecopia-map/cesium_tile_baker/internal/tiler"
	"github.com/ecopia-map/cesium_tile_baker/pkg"
	"github.com/ecopia-map/cesium_tile_baker/pkg/algorithm_manager/std_algorithm_manager"
	"github.com/ecopia-map/cesium_tile_baker/tools"
	"github.com/golang/glog"
)

const VERSION = "1.0.0"

const logo = `
  cesium_tile_baker
  Region downloader and transform baker for Cesium 3D Tiles
  Copyright YYYY
`

func main() {
	flagsGlobal := tools.ParseFlagsGlobal()
	defer glog.Flush()

	if *flagsGlobal.Help {
		showHelp()
		return
	}
	if *flagsGlobal.Version {
		printVersion()
		return
	}

	args := flag.Args()
	if len(args) == 0 {
		glog.Exit("Please specify a subcommand [fetch|bake].")
	}
	cmd, args := args[0], args[1:]

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd {
	case tools.CommandFetch:
		err = mainCommandFetch(ctx, args)
	case tools.CommandBake:
		err = mainCommandBake(ctx, args)
	default:
		glog.Exitf("Unrecognized command [%q]. Command must be one of [fetch|bake]", cmd)
	}

	if err != nil {
		glog.Errorln(err)
		glog.Flush()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func mainCommandFetch(ctx context.Context, args []string) error {
	// Retrieve command line args
	flags, err := tools.ParseFlagsForCommandFetch(args)
	if err != nil {
		return err
	}

	// Prints the command line flag description
	if *flags.Help {
		showHelp()
		return nil
	}
	if *flags.Version {
		printVersion()
		return nil
	}

	setupLogger(*flags.Silent, *flags.LogTimestamp)

	// Put args inside a TilerOptions struct
	opts := tiler.TilerOptions{
		Output:         *flags.Output,
		Converter:      tiler.ParseConverter(*flags.Converter),
		ManifestFormat: manifest.ParseFormat(*flags.ManifestFormat),
		MetricsAddr:    *flags.MetricsAddr,
		Command:        tools.CommandFetch,
		TilerFetchOptions: &tiler.TilerFetchOptions{
			APIKey:          *flags.APIKey,
			RootURL:         *flags.RootURL,
			Lat:             *flags.Lat,
			Lng:             *flags.Lng,
			Radius:          *flags.Radius,
			Concurrency:     *flags.Concurrency,
			Timeout:         *flags.Timeout,
			Elevation:       tiler.ParseElevationSource(*flags.Elevation),
			ElevationOffset: *flags.ElevationOffset,
		},
	}

	// Validate TilerOptions
	if msg, res := validateOptionsForCommandFetch(&opts, &flags); !res {
		return errors.New("error parsing input parameters: " + msg)
	}

	client := fetch.NewHTTPClient(opts.TilerFetchOptions.Timeout, opts.TilerFetchOptions.Concurrency, tiler.DefaultUserAgent+"/"+VERSION)
	algorithmManager, err := std_algorithm_manager.NewAlgorithmManager(&opts, client)
	if err != nil {
		return err
	}

	defer timeTrack(time.Now(), "fetch")
	if err := pkg.NewTilerFetch(client, algorithmManager).RunTiler(ctx, &opts); err != nil {
		return fmt.Errorf("error while fetching: %w", err)
	}
	tools.LogOutput("Fetch Completed")
	return nil
}

// Validates the input options provided to the command line tool
func validateOptionsForCommandFetch(opts *tiler.TilerOptions, flags *tools.FlagsForCommandFetch) (string, bool) {
	fetchOpts := opts.TilerFetchOptions
	if msg, res := validateBakerOptions(opts, &flags.BakerFlags); !res {
		return msg, res
	}

	if fetchOpts.APIKey == "" {
		return "an API key is required, use -key or $" + tools.APIKeyEnv, false
	}
	if fetchOpts.Lat < -90 || fetchOpts.Lat > 90 {
		return "lat must be within [-90, 90]", false
	}
	if fetchOpts.Lng < -180 || fetchOpts.Lng > 180 {
		return "lng must be within [-180, 180]", false
	}
	if fetchOpts.Radius <= 0 {
		return "radius must be positive", false
	}
	if fetchOpts.Concurrency < 1 {
		return "concurrency must be at least 1", false
	}
	if fetchOpts.Timeout <= 0 {
		return "timeout must be positive", false
	}
	if fetchOpts.Elevation == "" {
		return "elevation should be either NONE or GOOGLE", false
	}

	return "", true
}

func mainCommandBake(ctx context.Context, args []string) error {
	flags, err := tools.ParseFlagsForCommandBake(args)
	if err != nil {
		return err
	}

	if *flags.Help {
		showHelp()
		return nil
	}
	if *flags.Version {
		printVersion()
		return nil
	}

	setupLogger(*flags.Silent, *flags.LogTimestamp)

	opts := tiler.TilerOptions{
		Output:         *flags.Output,
		Converter:      tiler.ParseConverter(*flags.Converter),
		ManifestFormat: manifest.ParseFormat(*flags.ManifestFormat),
		MetricsAddr:    *flags.MetricsAddr,
		Command:        tools.CommandBake,
		TilerBakeOptions: &tiler.TilerBakeOptions{
			Input:            *flags.Input,
			FolderProcessing: *flags.FolderProcessing,
			Recursive:        *flags.RecursiveFolderProcessing,
		},
	}

	if msg, res := validateOptionsForCommandBake(&opts, &flags); !res {
		return errors.New("error parsing input parameters: " + msg)
	}

	algorithmManager, err := std_algorithm_manager.NewAlgorithmManager(&opts, nil)
	if err != nil {
		return err
	}

	defer timeTrack(time.Now(), "bake")
	if err := pkg.NewTilerBake(tools.NewStandardFileFinder(), algorithmManager).RunTiler(ctx, &opts); err != nil {
		return fmt.Errorf("error while baking: %w", err)
	}
	tools.LogOutput("Bake Completed")
	return nil
}

func validateOptionsForCommandBake(opts *tiler.TilerOptions, flags *tools.FlagsForCommandBake) (string, bool) {
	if msg, res := validateBakerOptions(opts, &flags.BakerFlags); !res {
		return msg, res
	}
	if _, err := os.Stat(opts.TilerBakeOptions.Input); os.IsNotExist(err) {
		return "Input file/folder not found", false
	}

	return "", true
}

// Validates the options shared by every command and fills in the origin
func validateBakerOptions(opts *tiler.TilerOptions, flags *tools.BakerFlags) (string, bool) {
	if opts.Output == "" {
		return "output folder is required", false
	}
	if opts.Converter == "" {
		return "converter should be either ELLIPSOID or PROJ4", false
	}
	if opts.ManifestFormat == "" {
		return "manifest-format should be either json or yaml", false
	}
	if *flags.Origin != "" {
		origin, err := tools.ParseVec3(*flags.Origin)
		if err != nil {
			return "origin: " + err.Error(), false
		}
		opts.Origin = &origin
	}

	return "", true
}

func setupLogger(silent bool, timestamp bool) {
	// set logging and timestamp logging
	if silent {
		tools.DisableLogger()
	} else {
		printLogo()
	}
	if !timestamp {
		tools.DisableLoggerTimestamp()
	}
}

func timeTrack(start time.Time, name string) {
	elapsed := time.Since(start)
	tools.LogOutput(fmt.Sprintf("%s took %s", name, elapsed))
}

func printLogo() {
	fmt.Println(strings.ReplaceAll(logo, "YYYY", strconv.Itoa(time.Now().Year())))
}

func showHelp() {
	printLogo()
	fmt.Println("***")
	fmt.Println("cesium_tile_baker downloads the 3D tiles of a region and bakes their transforms so every tile is a translation from one shared origin")
	printVersion()
	fmt.Println("***")
	fmt.Println("")
	fmt.Println("Usage: cesium_tile_baker [fetch|bake] [flags]. Run a subcommand with -help to list its flags.")
	fmt.Println("")
	fmt.Println("Global flags: ")
	flag.CommandLine.SetOutput(os.Stdout)
	flag.PrintDefaults()
}

func printVersion() {
	fmt.Println("v." + VERSION)
}
