package main

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/AccessibleAI/gpu-deploy/pkg/inventory"
	"github.com/AccessibleAI/gpu-deploy/pkg/remote"
	"github.com/AccessibleAI/gpu-deploy/pkg/remote/sshexec"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
	"golang.org/x/crypto/ssh"
)

// hostFunc runs one command against one host.
type hostFunc func(exr remote.Executor, host string) error

func targetHosts() ([]string, error) {
	if viper.GetBool(flagLocal) && viper.GetString(flagHosts) == "" && !viper.GetBool(flagAll) && viper.GetString(flagOn) == "" {
		return []string{"localhost"}, nil
	}
	inv, err := inventory.Load()
	if err != nil {
		return nil, err
	}
	return inv.Resolve(inventory.Selection{
		Hosts:   splitList(viper.GetString(flagHosts)),
		All:     viper.GetBool(flagAll),
		On:      viper.GetString(flagOn),
		Exclude: splitList(viper.GetString(flagExclude)),
	})
}

func splitList(s string) (items []string) {
	for _, i := range strings.Split(s, ",") {
		if i = strings.TrimSpace(i); i != "" {
			items = append(items, i)
		}
	}
	return
}

func identityFiles() []string {
	if files := splitList(viper.GetString(flagIdentity)); len(files) > 0 {
		return files
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	var files []string
	for _, name := range []string{"id_rsa", "id_ed25519"} {
		f := filepath.Join(home, ".ssh", name)
		if _, err := os.Stat(f); err == nil {
			files = append(files, f)
		}
	}
	return files
}

type executorFactory struct {
	signers []ssh.Signer
}

func newExecutorFactory() (*executorFactory, error) {
	if viper.GetBool(flagLocal) {
		return &executorFactory{}, nil
	}
	signers, err := sshexec.LoadSigners(identityFiles()...)
	if err != nil {
		return nil, err
	}
	return &executorFactory{signers: signers}, nil
}

func (f *executorFactory) executor(host string) (remote.Executor, func()) {
	if viper.GetBool(flagLocal) {
		return remote.Local{}, func() {}
	}
	exr := sshexec.New(host, sshexec.Options{
		User:           viper.GetString(flagUser),
		Port:           viper.GetString(flagSSHPort),
		Signers:        f.signers,
		KnownHostsFile: viper.GetString(flagKnownHosts),
		DialTimeout:    time.Duration(viper.GetInt(flagDialTimeout)) * time.Second,
	})
	return exr, exr.Close
}

// forEachHost runs fn on every target host, one after the other or all at
// once with --parallel. A failing host does not stop the others; every
// failure is returned.
func forEachHost(fn hostFunc) error {
	hosts, err := targetHosts()
	if err != nil {
		return err
	}
	factory, err := newExecutorFactory()
	if err != nil {
		return err
	}
	run := func(host string) error {
		exr, closeFn := factory.executor(host)
		defer closeFn()
		if err := fn(exr, host); err != nil {
			log.WithField("host", host).Error(err)
			return err
		}
		return nil
	}
	if !viper.GetBool(flagParallel) {
		var errs error
		for _, h := range hosts {
			errs = multierr.Append(errs, run(h))
		}
		return errs
	}
	var (
		wg   sync.WaitGroup
		mtx  sync.Mutex
		errs error
	)
	for _, h := range hosts {
		wg.Add(1)
		go func(host string) {
			defer wg.Done()
			err := run(host)
			mtx.Lock()
			errs = multierr.Append(errs, err)
			mtx.Unlock()
		}(h)
	}
	wg.Wait()
	return errs
}
