package observability

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"
)

var startTime = time.Now()

const (
	colorReset    = "\033[0m"
	colorBold     = "\033[1m"
	colorPurple   = "\033[35m"
	colorNeonCyan = "\033[96m"
	colorNeonMag  = "\033[95m"
)

// termMu synchronizes ALL terminal output so that the cursor
// save/restore in PrintLiveStatus can never be interrupted by a log write.
var termMu sync.Mutex

func termWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 80
	}
	return w
}

// ------------------------------------------------------------
// TermWriter – a mutex-guarded io.Writer for log output.
// ------------------------------------------------------------

type termWriter struct{}

func (tw termWriter) Write(p []byte) (n int, err error) {
	termMu.Lock()
	defer termMu.Unlock()
	return os.Stderr.Write(p)
}

// NewTermWriter returns an io.Writer suitable for log.SetOutput().
// It serialises writes with PrintLiveStatus via termMu.
func NewTermWriter() *termWriter {
	return &termWriter{}
}

// ------------------------------------------------------------
// Banner
// ------------------------------------------------------------

func PrintBanner() {
	fmt.Print("\033[2J\033[H")

	banner := `
 _       _____  __  ______  ____  _____   ________
| |     / /   \/  \/ / __ \/ __ \/  _/ | / /_  __/
| | /| / / /| \    / /_/ / / / // //  |/ / / /
| |/ |/ / ___ |   / ____/ /_/ // // /|  / / /
|__/|__/_/  |_|__/_/    \____/___/_/ |_/ /_/

        >> BROWSER STEP ORCHESTRATOR <<
`

	width := termWidth()
	for _, l := range strings.Split(banner, "\n") {
		padding := (width - len(l)) / 2
		if padding < 0 {
			padding = 0
		}
		fmt.Printf("%s%s%s\n", strings.Repeat(" ", padding), colorNeonCyan+l, colorReset)
	}
}

func InitializeTerminal() {
	// Header/Logo area: 1-9
	// Status line: 10
	// Scrolling Logs: 12+
	fmt.Print("\033[12;r")  // Set scrolling region from line 12 to the bottom
	fmt.Print("\033[12;1H") // Move cursor to the start of the scrolling region
}

func CleanupTerminal() {
	fmt.Print("\033[r\033[2J\033[H")
}

// ------------------------------------------------------------
// Live Status
// ------------------------------------------------------------

func PrintLiveStatus() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	uptime := time.Since(startTime).Round(time.Second)
	memMB := float64(m.Alloc) / 1024 / 1024

	role, task, lastHB := GetStatus()

	pulse := "OFFLINE"
	pulseColor := colorNeonMag
	delta := time.Since(lastHB)
	if delta < 40*time.Second {
		pulse = "HEALTHY"
		pulseColor = colorNeonCyan
	} else if delta < 90*time.Second {
		pulse = "LAGGING"
		pulseColor = colorPurple
	}

	roleColor := colorReset
	switch role {
	case RolePlanner:
		roleColor = colorNeonCyan
	case RoleNavigator:
		roleColor = colorNeonMag
	}

	displayTask := task
	if displayTask == "" {
		displayTask = "Waiting..."
	}
	if len(displayTask) > 32 {
		displayTask = displayTask[:29] + "..."
	}

	// Build the status string BEFORE locking, to minimise lock hold time.
	statusStr := fmt.Sprintf(
		"\033[s\033[10;1H\033[K%s[%s] %s%-7s%s | %s%-9s%s | %s | [%v] [%.1fMB]\033[u",
		colorReset,
		lastHB.Format("15:04:05"),
		pulseColor, pulse, colorReset,
		roleColor, role, colorReset,
		displayTask,
		uptime,
		memMB,
	)

	termMu.Lock()
	fmt.Print(statusStr)
	termMu.Unlock()
}
