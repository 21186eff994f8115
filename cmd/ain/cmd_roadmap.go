package main

import (
	"fmt"
	"path/filepath"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"ain/internal/factcore"
	"ain/internal/guard"
)

var roadmapCmd = &cobra.Command{
	Use:   "roadmap",
	Short: "Render the growth roadmap",
	RunE:  showRoadmap,
}

func showRoadmap(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ws, err := filepath.Abs(cfg.Identity.Workspace)
	if err != nil {
		return err
	}
	g, err := guard.NewRegistry(ws)
	if err != nil {
		return err
	}
	core, err := factcore.New(filepath.Join(ws, "fact_core.json"), ws, g)
	if err != nil {
		return err
	}

	md := core.RenderRoadmap()
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		fmt.Print(md)
		return nil
	}
	out, err := renderer.Render(md)
	if err != nil {
		fmt.Print(md)
		return nil
	}
	fmt.Print(out)
	return nil
}
