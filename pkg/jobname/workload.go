package jobname

// Workload is what a job runs: an interactive notebook or a script.
type Workload interface {
	// Segment is the name segment identifying the workload.
	Segment() string
	isWorkload()
}

// Notebook is an interactive notebook server, optionally protected by a
// token.
type Notebook struct {
	Token string
}

func (Notebook) Segment() string { return NotebookSegment }
func (Notebook) isWorkload()     {}

// Script runs scripts/<Name>.py with Args as its command line.
type Script struct {
	Name string
	Args string
}

func (s Script) Segment() string { return s.Name }
func (Script) isWorkload()       {}
