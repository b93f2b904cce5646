package model

// Scheduler adjusts an optimizer's learning rate once per epoch.
type Scheduler interface {
	Step()
}

// MultiStepLR multiplies the learning rate by Gamma each time the epoch count reaches a milestone.
type MultiStepLR struct {
	opt        Optimizer
	milestones map[int]bool
	gamma      float64
	epoch      int
}

func NewMultiStepLR(opt Optimizer, milestones []int, gamma float64) *MultiStepLR {
	ms := make(map[int]bool, len(milestones))
	for _, m := range milestones {
		ms[m] = true
	}
	return &MultiStepLR{opt: opt, milestones: ms, gamma: gamma}
}

func (s *MultiStepLR) Step() {
	s.epoch++
	if s.milestones[s.epoch] {
		s.opt.SetLR(s.opt.LR() * s.gamma)
	}
}

// Epoch is the number of times Step has been called.
func (s *MultiStepLR) Epoch() int { return s.epoch }

// Resume rewinds the optimizer to baseLR and replays the schedule up to epoch, so a restarted run
// lands on the rate it would have had.
func (s *MultiStepLR) Resume(baseLR float64, epoch int) {
	s.epoch = 0
	s.opt.SetLR(baseLR)
	for s.epoch < epoch {
		s.Step()
	}
}
