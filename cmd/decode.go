package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	gtfsproto "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/spf13/cobra"
	"google.golang.org/protobuf/encoding/protojson"
	proto "google.golang.org/protobuf/proto"

	"subwaytime.dev/arrivals"
	"subwaytime.dev/arrivals/downloader"
)

var decodeCmd = &cobra.Command{
	Use:   "decode <feed_id|url|file>",
	Short: "Dumps a GTFS-realtime feed as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  decode,
}

func decode(cmd *cobra.Command, args []string) error {
	source := args[0]

	var data []byte
	var err error

	url, isFeed := arrivals.DefaultFeedURLs[source]
	if !isFeed && (strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")) {
		url, isFeed = source, true
	}

	if isFeed {
		h, err := parseHeaders(headers)
		if err != nil {
			return fmt.Errorf("invalid header: %w", err)
		}
		if apiKey != "" {
			h["x-api-key"] = apiKey
		}
		data, err = downloader.HTTPGet(context.Background(), url, h, downloader.GetOptions{
			Timeout: arrivals.DefaultRealtimeTimeout,
			MaxSize: arrivals.DefaultRealtimeMaxSize,
		})
		if err != nil {
			return fmt.Errorf("downloading %s: %w", url, err)
		}
	} else {
		data, err = os.ReadFile(source)
		if err != nil {
			return err
		}
	}

	feed := &gtfsproto.FeedMessage{}
	if err := proto.Unmarshal(data, feed); err != nil {
		return fmt.Errorf("unmarshaling feed: %w", err)
	}

	out, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(feed)
	if err != nil {
		return fmt.Errorf("marshaling json: %w", err)
	}
	fmt.Println(string(out))

	if ts := feed.GetHeader().GetTimestamp(); ts != 0 {
		fmt.Fprintf(os.Stderr, "%d entities, generated %s\n",
			len(feed.GetEntity()),
			time.Unix(int64(ts), 0).Format(time.RFC3339),
		)
	}

	return nil
}
