package codegen

import (
	"fmt"
	"sort"
	"strings"

	"manim-studio/internal/models"
)

// SceneClass is the single scene class the model is instructed to emit. The render
// tool names the output file after it.
const SceneClass = "Scene1"

// ImportMarker must appear in every usable generation.
const ImportMarker = "from manim import"

const promptHeader = `RESPOND WITH PYTHON CODE ONLY. NO TEXT, NO EXPLANATIONS, NO MARKDOWN, NO FORMATTING.

You are a mathematically intelligent, expert-level Manim Community Edition Python developer. You understand both visual mathematics and formal animation principles.

Your task: Convert ALL scene descriptions below into a SINGLE continuous Manim animation. Combine them into ONE coherent, well-structured Python class named Scene1.

CRITICAL INSTRUCTIONS:
1. You will be given one or more scene descriptions.
2. You MUST combine ALL of them into ONE continuous animation.
3. DO NOT skip any scenes. Every one MUST be included.
4. Use Manim CE objects and methods that best represent the mathematical intent.
5. Favor clear, intuitive mathematical animations.

STRICT FORMAT REQUIREMENTS:
- Start your output IMMEDIATELY with: from manim import *
- Define a single class: class Scene1(Scene):
- Use a construct(self): method to contain the ENTIRE animation
- NO text, NO explanations, NO comments, NO markdown

MANIM SYNTAX RULES:
- Text: always use Text("symbol", font_size=, color=), NEVER Tex() or MathTex()
- Use Text() for ALL symbols: π, θ, ∑, ∫, ±, ∞, ≤, ≥, ≠, √, ², ³
- Graphs: use Axes, plot, plot_line_graph
- Animations: use self.play with run_time and rate_func where appropriate
- Always use self.wait() between sections

POSITIONING:
- Use ORIGIN, UP, DOWN, LEFT, RIGHT or np.array([x, y, z])
- Move objects with .animate.move_to() or .shift()
- For rotations and scaling use .animate.rotate() and .scale()

ANIMATION FLOW RULES:
- Each scene description becomes a section of the same Scene1 animation
- Between scenes add self.wait(1)
- Fade out previous elements before transitioning when needed

EXAMPLE FLOW:
If given:
  - Scene 1: Draw a circle and rotate it
  - Scene 2: Transform it into a square and fade it out

Then return:
from manim import *

class Scene1(Scene):
    def construct(self):
        circle = Circle(radius=1, color=BLUE)
        self.play(Create(circle))
        self.play(circle.animate.rotate(PI))
        self.wait()
        square = Square(side_length=2, color=RED)
        self.play(Transform(circle, square))
        self.play(FadeOut(square))
        self.wait()

NOW BEGIN CODE GENERATION

SCENE DESCRIPTIONS:
`

// BuildPrompt renders the generation request for scenes ordered by OrderIndex.
// The caller's slice is not reordered.
func BuildPrompt(scenes []models.Scene) (string, error) {
	if len(scenes) == 0 {
		return "", ErrEmptyInput
	}

	ordered := make([]models.Scene, len(scenes))
	copy(ordered, scenes)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].OrderIndex < ordered[j].OrderIndex
	})

	var b strings.Builder
	b.WriteString(promptHeader)
	for i, scene := range ordered {
		// One line per scene; embedded newlines would break the numbering.
		fmt.Fprintf(&b, "Scene %d: %s\n", i+1, strings.Join(strings.Fields(scene.Content), " "))
	}
	return b.String(), nil
}
