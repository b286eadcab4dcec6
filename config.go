package main

import "time"

// Config assembles every ambient knob §6 of the service enumerates into one
// struct, the way the teacher's main.go would if it grew past a single
// `-kinesisPort` flag. main() populates this from flag.* and hands it to
// kinesis.New via Options.
type Config struct {
	PlainPort int
	TLSPort   int
	TLSCert   string
	TLSKey    string

	AwsAccountId string
	AwsRegion    string

	CreateStreamDuration time.Duration
	DeleteStreamDuration time.Duration
	UpdateStreamDuration time.Duration
	DefaultRetention     time.Duration

	ShardLimit               int
	OnDemandStreamShardLimit int
	OnDemandStreamCountLimit int
	MaxShardsPerStream       int

	Persist PersistConfig

	LogLevel string
}

// PersistConfig mirrors §6's `persistConfig = { shouldPersist, interval,
// path, loadIfExists }` knob verbatim.
type PersistConfig struct {
	ShouldPersist bool
	Interval      time.Duration
	Path          string
	LoadIfExists  bool
}

// initialStream is one entry of §6's `initializeStreams: region -> list of
// create requests`, kept code-level like the teacher's own pre-population
// loop rather than parsed from a flag.
type initialStream struct {
	Region     string
	StreamName string
	ShardCount int64
}

// initializeStreams is the boot-time stream population list. Empty by
// default; operators wanting pre-created streams edit this slice, the same
// way the teacher's main.go hardcodes `[]string{"some_stream"}`.
var initializeStreams = []initialStream{}
