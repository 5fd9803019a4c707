package main

import (
	"fmt"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"github.com/xhad/chainserve/pkg/knowledge"
)

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("items"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// ingestBars shows one bar for fetching pages and one for indexing chunks.
type ingestBars struct {
	mu       sync.Mutex
	start    time.Time
	pages    int
	scraping *progressbar.ProgressBar
	indexing *progressbar.ProgressBar
}

func newIngestBars() *ingestBars {
	return &ingestBars{start: time.Now()}
}

func (b *ingestBars) progress() knowledge.Progress {
	return knowledge.Progress{
		OnPage: func(source string) {
			b.mu.Lock()
			defer b.mu.Unlock()
			if b.scraping == nil {
				b.scraping = getProgressBar(-1, " Loading documents")
			}
			b.pages++
			_ = b.scraping.Add(1)
			rate := float64(b.pages) / time.Since(b.start).Seconds()
			b.scraping.Describe(color.BlueString("Loading documents (%.1f pages/sec)", rate))
		},
		OnSplit: func(documents, chunks int) {
			b.mu.Lock()
			defer b.mu.Unlock()
			if b.scraping != nil {
				_ = b.scraping.Finish()
				fmt.Println()
			}
			color.Green("✓ Split %d documents into %d chunks", documents, chunks)
			b.start = time.Now()
		},
		OnIndexed: func(done, total int) {
			b.mu.Lock()
			defer b.mu.Unlock()
			if b.indexing == nil {
				b.indexing = getProgressBar(total, " Indexing chunks")
			}
			_ = b.indexing.Set(done)
			rate := float64(done) / time.Since(b.start).Seconds()
			b.indexing.Describe(color.BlueString("Indexing chunks (%.1f chunks/sec)", rate))
		},
	}
}

func (b *ingestBars) finish() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.indexing != nil {
		_ = b.indexing.Finish()
		fmt.Println()
	} else if b.scraping != nil {
		_ = b.scraping.Finish()
		fmt.Println()
	}
}
