//go:build windows

package mynet

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-logr/logr"
	"golang.org/x/sys/windows"
)

// firewallRules lets multicast DNS answers reach the process
var firewallRules = []struct {
	name       string
	port       int
	remoteAddr string
	desc       string
}{
	{name: "Deco mDNS IPv4", port: 5353, remoteAddr: "224.0.0.0/4", desc: "Deco device discovery over mDNS (IPv4)"},
	{name: "Deco mDNS IPv6", port: 5353, remoteAddr: "ff00::/8", desc: "Deco device discovery over mDNS (IPv6)"},
}

var firewallOnce sync.Once

// InitializeFirewall adds inbound rules for mDNS traffic, once per process.
func InitializeFirewall(log logr.Logger) error {
	var initErr error
	firewallOnce.Do(func() {
		initErr = addFirewallRules(log.WithName("firewall"))
	})
	return initErr
}

func addFirewallRules(log logr.Logger) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}
	exePath, err := filepath.Abs(exe)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}

	if err := windows.CoInitializeEx(0, windows.COINIT_MULTITHREADED); err != nil {
		return fmt.Errorf("CoInitializeEx failed: %w", err)
	}
	defer windows.CoUninitialize()

	for _, rule := range firewallRules {
		args := []string{
			"advfirewall", "firewall", "add", "rule",
			"name=" + rule.name,
			"dir=in",
			"action=allow",
			"program=" + exePath,
			fmt.Sprintf("protocol=%d", windows.IPPROTO_UDP),
			fmt.Sprintf("localport=%d", rule.port),
			"remoteip=" + rule.remoteAddr,
			"enable=yes",
			"description=" + rule.desc,
		}
		err := windows.ShellExecute(0, windows.StringToUTF16Ptr("runas"),
			windows.StringToUTF16Ptr("netsh"),
			windows.StringToUTF16Ptr(joinArgs(args)),
			nil, windows.SW_HIDE)
		if err != nil {
			log.Error(err, "Failed to add firewall rule", "rule", rule.name)
			continue
		}
		log.V(1).Info("Added firewall rule", "rule", rule.name, "port", rule.port, "remoteAddr", rule.remoteAddr)
	}
	return nil
}

func joinArgs(args []string) string {
	quoted := make([]string, len(args))
	for i, arg := range args {
		if strings.Contains(arg, " ") {
			arg = `"` + arg + `"`
		}
		quoted[i] = arg
	}
	return strings.Join(quoted, " ")
}
