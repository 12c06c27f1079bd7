// Package main implements a command line client for the detection service.
package main

import (
	"encoding/base64"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"github.com/recyclens/detection-service/api"
)

func main() {
	server := flag.String("server", "http://localhost:8000", "detection service base URL")
	timeout := flag.Duration("timeout", 60*time.Second, "request timeout")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: detectctl [-server url] [-timeout d] <image file>")
		os.Exit(2)
	}

	client := resty.New().SetBaseURL(*server).SetTimeout(*timeout)
	if err := run(client, flag.Arg(0), os.Stdout); err != nil {
		log.Fatal(err)
	}
}

// run posts the image at path and prints the ranked detections to out.
func run(client *resty.Client, path string, out io.Writer) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "failed to read %s", path)
	}

	payload := base64.StdEncoding.EncodeToString(data)

	var result api.DetectResponse
	var failure api.ErrorResponse
	resp, err := client.R().
		SetBody(api.DetectRequest{Image: &payload}).
		SetResult(&result).
		SetError(&failure).
		Post("/v1/detect")
	if err != nil {
		return errors.Wrap(err, "request failed")
	}
	if resp.IsError() {
		return errors.Errorf("server returned %d: %s", resp.StatusCode(), failure.Detail)
	}

	if len(result.Detections) == 0 {
		fmt.Fprintln(out, "no detections")
		return nil
	}
	for i, d := range result.Detections {
		fmt.Fprintf(out, "%2d. %-16s %.3f  x=%.3f y=%.3f w=%.3f h=%.3f\n",
			i+1, d.Label, d.Confidence, d.BBox.X, d.BBox.Y, d.BBox.Width, d.BBox.Height)
	}
	return nil
}
