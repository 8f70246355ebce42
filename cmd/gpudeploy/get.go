package main

import (
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/AccessibleAI/gpu-deploy/pkg/gpumgr"
	"github.com/AccessibleAI/gpu-deploy/pkg/jobs"
	"github.com/AccessibleAI/gpu-deploy/pkg/remote"
	"github.com/atomicgo/cursor"
	"github.com/jedib0t/go-pretty/v6/table"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	flagWatch    = "watch"
	flagInterval = "interval"
)

var availabilityParams = []param{
	{name: flagWatch, shorthand: "w", value: false, usage: "watch for the changes"},
	{name: flagInterval, shorthand: "", value: 5, usage: "refresh interval in seconds with --watch"},
}

var availabilityCmd = &cobra.Command{
	Use:     "availability",
	Aliases: []string{"a", "free"},
	Short:   "list free gpus of the target hosts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getAvailability()
	},
}

var psCmd = &cobra.Command{
	Use:     "ps",
	Aliases: []string{"containers"},
	Short:   "list running jobs of the target hosts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getJobs()
	},
}

// rowCollector gathers table rows from hosts that may run concurrently.
type rowCollector struct {
	mtx  sync.Mutex
	rows map[string][]table.Row
}

func (c *rowCollector) add(host string, rows ...table.Row) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if c.rows == nil {
		c.rows = make(map[string][]table.Row)
	}
	c.rows[host] = append(c.rows[host], rows...)
}

func (c *rowCollector) sorted() (body []table.Row) {
	var hosts []string
	for h := range c.rows {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)
	for _, h := range hosts {
		body = append(body, c.rows[h]...)
	}
	return
}

func collectAvailability() ([]table.Row, table.Row, error) {
	rc := &rowCollector{}
	var totalFree, totalPresent int
	var mtx sync.Mutex
	err := forEachHost(func(exr remote.Executor, host string) error {
		a, err := gpumgr.NewGpuManager(exr, host).GetAvailability()
		if err != nil {
			rc.add(host, table.Row{host, "-", "-", "unreachable"})
			return err
		}
		recorder.SetDevices(host, len(a.Present), len(a.Claimed), len(a.Free))
		mtx.Lock()
		totalFree += len(a.Free)
		totalPresent += len(a.Present)
		mtx.Unlock()
		rc.add(host, table.Row{host, formatIndexes(a.Present), formatIndexes(a.Claimed), formatIndexes(a.Free)})
		return nil
	})
	footer := table.Row{"", "", "Free", fmt.Sprintf("%d/%d", totalFree, totalPresent)}
	return rc.sorted(), footer, err
}

func getAvailability() error {
	to := &TableOutput{}
	to.header = table.Row{"Host", "GPUs", "Claimed", "Free"}

	if !viper.GetBool(flagWatch) {
		var err error
		to.body, to.footer, err = collectAvailability()
		to.buildTable()
		to.print()
		return err
	}

	refreshCh := make(chan bool)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		for {
			refreshCh <- true
			time.Sleep(time.Duration(viper.GetInt(flagInterval)) * time.Second)
		}
	}()

	for {
		select {
		case <-sigCh:
			cursor.ClearLine()
			log.Info("shutting down")
			return nil
		case <-refreshCh:
			body, footer, err := collectAvailability()
			if err != nil {
				log.Errorf("failed to refresh availability, err: %s", err)
			}
			to.body, to.footer = body, footer
			to.buildTable()
			to.print()
		}
	}
}

func getJobs() error {
	rc := &rowCollector{}
	err := forEachHost(func(exr remote.Executor, host string) error {
		running, err := jobs.NewRegistry(exr, host).List()
		if err != nil {
			return err
		}
		for _, j := range running {
			script, devices := formatJobName(j.Name)
			rc.add(host, table.Row{host, j.Name, shortId(j.Id), script, devices})
		}
		return nil
	})
	to := &TableOutput{}
	to.header = table.Row{"Host", "Name", "Id", "Script", "GPUs"}
	to.body = rc.sorted()
	to.buildTable()
	to.print()
	return err
}
