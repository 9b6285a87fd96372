package fleetsim

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math/rand"
)

// Domain is the bus domain every generated robot lives in
const Domain = "prosody"

var roles = []string{
	"calibration_agent",
	"navigation_agent",
	"mapping_agent",
	"picker_agent",
	"courier_agent",
}

var phrases = []string{
	"requesting position update",
	"position confirmed",
	"path blocked, replanning",
	"calibration complete",
	"moving to waypoint",
	"waypoint reached",
	"payload secured",
	"awaiting instructions",
}

var labels = map[string][]string{
	"IDLE":      {"waiting", "charging", "standby"},
	"EXECUTING": {"navigating", "calibrating", "scanning", "carrying payload"},
}

// Generator creates robot identities and message content
type Generator struct {
	rng *rand.Rand
}

// NewGenerator creates a new generator
func NewGenerator(seed int64) *Generator {
	return &Generator{rng: rand.New(rand.NewSource(seed))}
}

// GenerateAgents returns count bare JIDs. The well known roles come first.
func (g *Generator) GenerateAgents(count int) []string {
	agents := make([]string, count)
	for i := 0; i < count; i++ {
		if i < len(roles) {
			agents[i] = roles[i] + "@" + Domain
			continue
		}
		agents[i] = fmt.Sprintf("robot_%02d_agent@%s", i+1, Domain)
	}
	return agents
}

// Resource returns a short random transport resource such as "a1b2c3"
func (g *Generator) Resource() string {
	return fmt.Sprintf("%06x", g.rng.Intn(1<<24))
}

// Phrase picks a text message body
func (g *Generator) Phrase() string {
	return phrases[g.rng.Intn(len(phrases))]
}

// Label picks a description for status
func (g *Generator) Label(status string) string {
	options := labels[status]
	if len(options) == 0 {
		return "offline"
	}
	return options[g.rng.Intn(len(options))]
}

// Intn exposes the generator's random source
func (g *Generator) Intn(n int) int {
	return g.rng.Intn(n)
}

// Maze renders a random size×size grid as a base64 PNG. Walls are dark,
// corridors light.
func (g *Generator) Maze(size int) string {
	const cell = 4
	img := image.NewGray(image.Rect(0, 0, size*cell, size*cell))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			c := color.Gray{Y: 230}
			border := x == 0 || y == 0 || x == size-1 || y == size-1
			if border || g.rng.Intn(4) == 0 {
				c = color.Gray{Y: 30}
			}
			for dy := 0; dy < cell; dy++ {
				for dx := 0; dx < cell; dx++ {
					img.SetGray(x*cell+dx, y*cell+dy, c)
				}
			}
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}
