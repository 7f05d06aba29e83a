package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rodaine/table"
	"github.com/spf13/cobra"

	"subwaytime.dev/arrivals"
	"subwaytime.dev/arrivals/api"
	"subwaytime.dev/arrivals/downloader"
	"subwaytime.dev/arrivals/parse"
)

var arrivalsCmd = &cobra.Command{
	Use:   "arrivals <station_key>",
	Short: "Lists upcoming arrivals at a station",
	Args:  cobra.ExactArgs(1),
	RunE:  listArrivals,
}

var (
	short     bool
	routeID   string
	cachePath string
)

func init() {
	arrivalsCmd.Flags().BoolVarP(&short, "short", "s", false, "Print minutes only")
	arrivalsCmd.Flags().StringVarP(&routeID, "route", "r", "", "Restrict to a specific route")
	arrivalsCmd.Flags().StringVarP(&cachePath, "cache", "", "./gtfs-rt-cache.json", "Realtime feed cache file")
}

func listArrivals(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := buildLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

	s, stations, err := loadStations(cfg, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	station, err := stations.Lookup(args[0])
	if err != nil {
		return fmt.Errorf("%w (available: %v)", err, stations.Keys())
	}

	m, err := buildManager(cfg, logger)
	if err != nil {
		return err
	}

	fs, err := downloader.NewFilesystem(cachePath)
	if err != nil {
		return fmt.Errorf("creating realtime cache: %w", err)
	}
	fs.Logger = logger
	fs.Upstream = downloader.NewRetrying(downloader.HTTP{}, logger)
	m.Downloader = fs

	snap, err := m.SnapshotForStation(context.Background(), station)
	if err != nil {
		return err
	}

	now := time.Now()
	upcoming := arrivals.NextArrivals(station, snap, now, routeID)

	if short {
		fmt.Println(api.FormatShort(upcoming, cfg.Server.ShortCount))
		return nil
	}

	loc, err := time.LoadLocation(parse.FeedTimezone)
	if err != nil {
		return err
	}

	fmt.Printf("%s (%s, %s)\n", station.StopName, station.StopID, station.Direction)
	tbl := table.New("Route", "Trip", "Arrival", "Minutes")
	for _, a := range upcoming {
		tbl.AddRow(a.RouteID, a.TripID, a.Time.In(loc).Format("15:04:05"), a.Minutes)
	}
	tbl.Print()

	return nil
}
