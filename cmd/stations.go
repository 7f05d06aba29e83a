package main

import (
	"fmt"
	"os"

	"github.com/rodaine/table"
	"github.com/spf13/cobra"

	"subwaytime.dev/arrivals"
	"subwaytime.dev/arrivals/parse"
	"subwaytime.dev/arrivals/storage"
)

var stationsCmd = &cobra.Command{
	Use:   "stations",
	Short: "Lists configured stations",
	Args:  cobra.NoArgs,
	RunE:  listStations,
}

var importStationsCmd = &cobra.Command{
	Use:   "import-stations <csv>",
	Short: "Replaces the station set with the stations in a CSV file",
	Long: `Replaces the station set with the stations in a CSV file.

The file must have the columns station_key, route_id, stop_id and
stop_name. Every route_id must be served by a known feed.

With --stops, every stop_id is checked against a GTFS static
stops.txt, and blank stop names are filled in from it.`,
	Args: cobra.ExactArgs(1),
	RunE: runImportStations,
}

var stopsPath string

func init() {
	importStationsCmd.Flags().StringVarP(&stopsPath, "stops", "", "", "GTFS static stops.txt to check stop IDs against")
}

func listStations(cmd *cobra.Command, args []string) error {
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

	tbl := table.New("Key", "Route", "Stop", "Name", "Direction")
	for _, st := range stations.Stations() {
		tbl.AddRow(st.Key, st.RouteID, st.StopID, st.StopName, st.Direction)
	}
	tbl.Print()

	return nil
}

func runImportStations(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	s, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer s.Close()

	if stopsPath == "" {
		stopsPath = cfg.Stations.Stops
	}

	n, err := importStations(s, cfg.Stations.Set, args[0], stopsPath)
	if err != nil {
		return err
	}

	fmt.Printf("imported %d stations into set '%s'\n", n, cfg.Stations.Set)
	return nil
}

func importStations(s storage.Storage, set string, path string, stopsPath string) (int, error) {
	var stops map[string]*parse.StopCSV
	if stopsPath != "" {
		sf, err := os.Open(stopsPath)
		if err != nil {
			return 0, fmt.Errorf("opening %s: %w", stopsPath, err)
		}
		defer sf.Close()

		stops, err = parse.ParseStops(sf)
		if err != nil {
			return 0, fmt.Errorf("parsing %s: %w", stopsPath, err)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	writer, err := s.GetWriter(set)
	if err != nil {
		return 0, fmt.Errorf("getting writer: %w", err)
	}

	var sw storage.StationWriter = writer
	if stops != nil {
		sw = parse.CheckStops(writer, stops)
	}

	keys, err := parse.ParseStations(sw, f, arrivals.KnownRoutes(arrivals.DefaultRouteFeeds))
	if err != nil {
		writer.Abort()
		return 0, fmt.Errorf("parsing %s: %w", path, err)
	}

	err = writer.Close()
	if err != nil {
		return 0, fmt.Errorf("closing writer: %w", err)
	}

	return len(keys), nil
}
