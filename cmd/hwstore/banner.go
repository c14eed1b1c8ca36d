package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

var (
	bannerTitle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#f59e0b")).
			Bold(true)

	bannerDim = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	bannerAccent = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#4ade80"))
)

// printGreeting is shown when a command needs a session and there is none.
func printGreeting() {
	fmt.Printf("\n%s\n\n%s\n\n%s\n\n",
		bannerTitle.Render("H W S T O R E"),
		bannerDim.Render("You are not signed in."),
		bannerDim.Render("To sign in: ")+bannerAccent.Render("hwstore login"),
	)
}

// printMockBanner is printed when the mock backend starts listening.
func printMockBanner(addr string) {
	fmt.Printf("\n  %s  %s\n\n", bannerTitle.Render("H W S T O R E"), bannerDim.Render("mock backend "+version))
	fmt.Printf("  %s %s\n", bannerDim.Render("API     "), bannerAccent.Render("http://"+addr+"/api"))
	fmt.Printf("  %s %s\n\n", bannerDim.Render("sign in "), bannerAccent.Render("admin / admin"))
}
