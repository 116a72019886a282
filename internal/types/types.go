package types

// FrameTask is a single frame sent to the landmark worker.
type FrameTask struct {
	Index  int
	Width  int
	Height int
	Pix    []byte // packed RGBA, Width*Height*4 bytes
}

// LandmarkResult is what the worker reports for one frame. Points is empty
// when no face was found.
type LandmarkResult struct {
	Convergence float64      `json:"convergence"`
	Points      [][2]float64 `json:"points"`
}
