package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"
)

const launchdLabel = "com.relaybot.serve"

// serviceFile is a rendered init file for the host's service manager,
// plus the commands the operator runs afterwards.
type serviceFile struct {
	path  string
	data  string
	dirs  []string
	usage []string
}

// daemonService builds the service plan for the current platform.
// Rendering only needs the home directory, so uninstall can call it with
// empty exec and config paths.
func daemonService(execPath, cfgPath string) (*serviceFile, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("cannot determine home directory: %w", err)
	}

	switch runtime.GOOS {
	case "darwin":
		logDir := filepath.Join(home, ".relaybot", "logs")
		plistPath := filepath.Join(home, "Library", "LaunchAgents", launchdLabel+".plist")
		return &serviceFile{
			path: plistPath,
			data: renderLaunchd(execPath, cfgPath, logDir),
			dirs: []string{logDir},
			usage: []string{
				"To start: launchctl load " + plistPath,
				"To stop:  launchctl unload " + plistPath,
			},
		}, nil
	case "linux":
		return &serviceFile{
			path: filepath.Join(home, ".config", "systemd", "user", "relaybot.service"),
			data: renderSystemd(execPath, cfgPath),
			usage: []string{
				"To start:  systemctl --user start relaybot",
				"To enable: systemctl --user enable relaybot",
				"To stop:   systemctl --user stop relaybot",
			},
		}, nil
	default:
		return nil, fmt.Errorf("unsupported OS: %s (supported: darwin, linux)", runtime.GOOS)
	}
}

func installDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Install relaybot as a user service (launchd/systemd)",
		Long:  "Writes a service file so relaybot serve runs in the background on login.",
		RunE: func(cmd *cobra.Command, args []string) error {
			execPath, err := os.Executable()
			if err != nil {
				return fmt.Errorf("cannot determine executable path: %w", err)
			}

			svc, err := daemonService(execPath, resolveConfigPath())
			if err != nil {
				return err
			}

			for _, dir := range append(svc.dirs, filepath.Dir(svc.path)) {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return err
				}
			}
			if err := os.WriteFile(svc.path, []byte(svc.data), 0o644); err != nil {
				return err
			}

			fmt.Printf("Service installed: %s\n", svc.path)
			for _, line := range svc.usage {
				fmt.Println(line)
			}
			return nil
		},
	}
}

func uninstallDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the relaybot user service",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := daemonService("", "")
			if err != nil {
				return err
			}
			if err := os.Remove(svc.path); err != nil {
				return fmt.Errorf("remove service file: %w", err)
			}
			fmt.Printf("Service removed: %s\n", svc.path)
			return nil
		},
	}
}

func renderLaunchd(execPath, cfgPath, logDir string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>%s</string>
    <key>ProgramArguments</key>
    <array>
        <string>%s</string>
        <string>serve</string>
        <string>--config</string>
        <string>%s</string>
    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <dict>
        <key>NetworkState</key>
        <true/>
    </dict>
    <key>ProcessType</key>
    <string>Background</string>
    <key>ThrottleInterval</key>
    <integer>10</integer>
    <key>StandardOutPath</key>
    <string>%s</string>
    <key>StandardErrorPath</key>
    <string>%s</string>
</dict>
</plist>
`, launchdLabel, execPath, cfgPath,
		filepath.Join(logDir, "relaybot.log"),
		filepath.Join(logDir, "relaybot-error.log"))
}

func renderSystemd(execPath, cfgPath string) string {
	return fmt.Sprintf(`[Unit]
Description=Relaybot Discord relay
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
ExecStart=%s serve --config %s
Restart=on-failure
RestartSec=5
NoNewPrivileges=true
PrivateTmp=true

[Install]
WantedBy=default.target
`, execPath, cfgPath)
}
