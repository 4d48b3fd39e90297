// Command pintosfs-mkfs creates a backing image file and formats it with a
// fresh free map and root directory.
package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"pintosfs/internal/config"
	"pintosfs/internal/fsengine"
	"pintosfs/internal/version"
)

func main() {
	var configPath string
	var devicePath string
	var sectorCount uint32
	var showVersion bool

	flag.StringVarP(&configPath, "config", "c", "", "Optional JSONC config file to load defaults from")
	flag.StringVarP(&devicePath, "device", "d", "", "Backing image path (overrides config)")
	flag.Uint32VarP(&sectorCount, "sectors", "s", 0, "Sector count for the new image (overrides config)")
	flag.BoolVar(&showVersion, "version", false, "Print version information and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(version.Get().String())
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "pintosfs-mkfs:", err)
		os.Exit(1)
	}
	if devicePath != "" {
		cfg.DevicePath = devicePath
	}
	if sectorCount != 0 {
		cfg.SectorCount = sectorCount
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "pintosfs-mkfs:", err)
		os.Exit(1)
	}

	if _, err := os.Stat(cfg.DevicePath); err == nil {
		fmt.Fprintf(os.Stderr, "pintosfs-mkfs: %s already exists, refusing to overwrite\n", cfg.DevicePath)
		os.Exit(1)
	}

	fs, err := fsengine.Mount(cfg, true)
	if err != nil {
		fmt.Fprintln(os.Stderr, "pintosfs-mkfs:", err)
		os.Exit(1)
	}
	fs.Unmount()

	fmt.Printf("formatted %s: %d sectors, root at sector 1\n", cfg.DevicePath, cfg.SectorCount)
}
