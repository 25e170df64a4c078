package estimator

import "github.com/relabs-tech/position_estimator/internal/imu"

// pairer matches calibrated gyroscope and accelerometer samples arriving in
// timestamp order. A sample waits for a partner of the other type within the
// tolerance; one that cannot be matched is emitted alone.
type pairer struct {
	tolerance int64
	pending   imu.Sample
	waiting   bool
}

// inertialStep is one prediction input. A missing channel is filled by the
// filter from the last known value of that channel.
type inertialStep struct {
	gyro, accel       imu.Vec3
	hasGyro, hasAccel bool
	ts                int64
}

func (s inertialStep) degraded() bool { return !s.hasGyro || !s.hasAccel }

func single(s imu.Sample) inertialStep {
	st := inertialStep{ts: s.Timestamp}
	if s.Type == imu.Gyroscope {
		st.gyro, st.hasGyro = s.Value, true
	} else {
		st.accel, st.hasAccel = s.Value, true
	}
	return st
}

// push adds s and returns the steps that are now complete, in order.
func (p *pairer) push(s imu.Sample) []inertialStep {
	if !p.waiting {
		p.pending, p.waiting = s, true
		return nil
	}
	prev := p.pending
	if prev.Type != s.Type && s.Timestamp-prev.Timestamp <= p.tolerance {
		p.waiting = false
		st := inertialStep{ts: max(prev.Timestamp, s.Timestamp), hasGyro: true, hasAccel: true}
		if prev.Type == imu.Gyroscope {
			st.gyro, st.accel = prev.Value, s.Value
		} else {
			st.gyro, st.accel = s.Value, prev.Value
		}
		return []inertialStep{st}
	}
	p.pending = s
	return []inertialStep{single(prev)}
}

// expire emits the pending sample alone when no partner can arrive any more
// because time has moved past its tolerance window.
func (p *pairer) expire(now int64) []inertialStep {
	if p.waiting && now-p.pending.Timestamp > p.tolerance {
		return p.flush()
	}
	return nil
}

// flush emits the pending sample alone.
func (p *pairer) flush() []inertialStep {
	if !p.waiting {
		return nil
	}
	p.waiting = false
	return []inertialStep{single(p.pending)}
}
