package driver

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.einride.tech/can"
	"periph.io/x/conn/v3/gpio"

	"lanebot/internal/config"
)

// fakeRegisters はPCA9685のレジスタを模したI2Cデバイス
type fakeRegisters struct {
	regs   [256]byte
	writes [][2]byte
	err    error
}

func (f *fakeRegisters) Tx(w, r []byte) error {
	if f.err != nil {
		return f.err
	}
	if len(r) > 0 && len(w) == 1 {
		r[0] = f.regs[w[0]]
		return nil
	}
	if len(w) == 2 {
		f.regs[w[0]] = w[1]
		f.writes = append(f.writes, [2]byte{w[0], w[1]})
	}
	return nil
}

// off はチャンネルのOFFカウントを返す
func (f *fakeRegisters) off(channel int) int {
	base := regLED0OnL + 4*channel
	return int(f.regs[base+2]) | int(f.regs[base+3])<<8
}

type fakePin struct {
	level  gpio.Level
	writes int
}

func (p *fakePin) Out(l gpio.Level) error {
	p.level = l
	p.writes++
	return nil
}

func newTestPCA(t *testing.T) (*PCA9685, *fakeRegisters) {
	t.Helper()
	regs := &fakeRegisters{}
	p, err := NewPCA9685(regs)
	require.NoError(t, err)
	p.sleep = func(time.Duration) {}
	return p, regs
}

func TestPCA9685_SetFrequency(t *testing.T) {
	p, regs := newTestPCA(t)
	regs.writes = nil

	require.NoError(t, p.SetFrequency(50))

	expected := [][2]byte{
		{regMode1, mode1Sleep},
		{regPrescale, 121},
		{regMode1, 0x00},
		{regMode1, mode1Restart},
	}
	assert.Equal(t, expected, regs.writes)
}

func TestPCA9685_Prescale(t *testing.T) {
	tests := []struct {
		name string
		freq int
		want byte
	}{
		{"50Hz", 50, 121},
		{"60Hz", 60, 101},
		{"1000Hz", 1000, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, prescale(tt.freq))
		})
	}
}

func TestPCA9685_InvalidInput(t *testing.T) {
	p, _ := newTestPCA(t)

	assert.Error(t, p.SetFrequency(0))
	assert.Error(t, p.SetPWM(16, 0, 0))
	assert.Error(t, p.SetPWM(-1, 0, 0))
}

func TestPCA9685_SetPWMRegisters(t *testing.T) {
	p, regs := newTestPCA(t)
	regs.writes = nil

	require.NoError(t, p.SetPWM(1, 0x0102, 0x0304))

	expected := [][2]byte{
		{0x0A, 0x02},
		{0x0B, 0x01},
		{0x0C, 0x04},
		{0x0D, 0x03},
	}
	assert.Equal(t, expected, regs.writes)
}

func TestPCA9685_DutyAndServo(t *testing.T) {
	p, regs := newTestPCA(t)

	require.NoError(t, p.SetDutyCycle(0, 50))
	assert.Equal(t, 2048, regs.off(0))

	require.NoError(t, p.SetDutyCycle(0, 100))
	assert.Equal(t, 4096, regs.off(0))

	require.NoError(t, p.SetLevel(2, true))
	assert.Equal(t, 4095, regs.off(2))
	require.NoError(t, p.SetLevel(2, false))
	assert.Equal(t, 0, regs.off(2))

	t.Run("サーボ角度のパルス幅", func(t *testing.T) {
		assert.Equal(t, 102, servoDuty(0))
		assert.Equal(t, 305, servoDuty(90))
		assert.Equal(t, 507, servoDuty(180))

		require.NoError(t, p.SetServoAngle(9, 90))
		assert.Equal(t, 305, regs.off(9))
	})
}

func newTestLoborobot(t *testing.T) (*Loborobot, *fakeRegisters, *fakePin, *fakePin) {
	t.Helper()
	p, regs := newTestPCA(t)
	d1, d2 := &fakePin{}, &fakePin{}
	board, err := NewLoborobot(p, d1, d2, 50)
	require.NoError(t, err)
	return board, regs, d1, d2
}

func TestLoborobot_SetWheelSpeed(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		wheel    int
		dir      Direction
		pwm      int
		in1, in2 int
		in1High  bool
	}{
		{"左前輪は配線が逆向き", WheelLeftFront, Forward, 0, 2, 1, false},
		{"左前輪の後退", WheelLeftFront, Backward, 0, 2, 1, true},
		{"右前輪の前進", WheelRightFront, Forward, 5, 3, 4, true},
		{"左後輪の後退", WheelLeftRear, Backward, 6, 8, 7, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			board, regs, _, _ := newTestLoborobot(t)

			require.NoError(t, board.SetWheelSpeed(ctx, tt.wheel, tt.dir, 50))

			assert.Equal(t, 2048, regs.off(tt.pwm))
			high, low := tt.in1, tt.in2
			if !tt.in1High {
				high, low = tt.in2, tt.in1
			}
			assert.Equal(t, 4095, regs.off(high))
			assert.Equal(t, 0, regs.off(low))
		})
	}
}

func TestLoborobot_RightRearUsesGPIO(t *testing.T) {
	ctx := context.Background()
	board, regs, d1, d2 := newTestLoborobot(t)

	require.NoError(t, board.SetWheelSpeed(ctx, WheelRightRear, Forward, 30))
	assert.Equal(t, 30*4096/100, regs.off(11))
	assert.Equal(t, gpio.Low, d1.level)
	assert.Equal(t, gpio.High, d2.level)

	require.NoError(t, board.SetWheelSpeed(ctx, WheelRightRear, Backward, 30))
	assert.Equal(t, gpio.High, d1.level)
	assert.Equal(t, gpio.Low, d2.level)
}

func TestLoborobot_StopAll(t *testing.T) {
	ctx := context.Background()
	board, regs, _, _ := newTestLoborobot(t)

	for w := 0; w < WheelCount; w++ {
		require.NoError(t, board.SetWheelSpeed(ctx, w, Forward, 80))
	}
	require.NoError(t, board.SetServoAngle(ctx, 9, 45, 0))

	require.NoError(t, board.StopAll(ctx))

	for _, ch := range []int{0, 5, 6, 11} {
		assert.Equal(t, 0, regs.off(ch), "チャンネル %d", ch)
	}
	// サーボの保持も解除される
	assert.Equal(t, 0, regs.off(9))
	assert.Equal(t, 0, regs.off(10))
}

func TestLoborobot_InvalidArguments(t *testing.T) {
	ctx := context.Background()
	board, _, _, _ := newTestLoborobot(t)

	assert.Error(t, board.SetWheelSpeed(ctx, 4, Forward, 10))
	assert.Error(t, board.SetWheelSpeed(ctx, 0, Forward, 101))
	assert.Error(t, board.SetWheelSpeed(ctx, 0, Forward, -1))
	assert.Error(t, board.SetServoAngle(ctx, 9, 181, 0))
}

func TestLoborobot_BusError(t *testing.T) {
	ctx := context.Background()
	board, regs, _, _ := newTestLoborobot(t)
	regs.err = errors.New("i2c nack")

	assert.Error(t, board.SetWheelSpeed(ctx, 0, Forward, 10))
	assert.Error(t, board.StopAll(ctx))
}

type fakeTransmitter struct {
	frames []can.Frame
	err    error
}

func (f *fakeTransmitter) TransmitFrame(_ context.Context, frame can.Frame) error {
	if f.err != nil {
		return f.err
	}
	f.frames = append(f.frames, frame)
	return nil
}

func TestCANBus_Frames(t *testing.T) {
	ctx := context.Background()
	tx := &fakeTransmitter{}
	bus := NewCANBus(tx, 0x200)

	require.NoError(t, bus.SetWheelSpeed(ctx, WheelLeftRear, Backward, 42))
	require.NoError(t, bus.StopAll(ctx))
	require.NoError(t, bus.SetServoAngle(ctx, 10, 90, 0))

	require.Len(t, tx.frames, 3)

	assert.Equal(t, uint32(0x202), tx.frames[0].ID)
	assert.Equal(t, uint8(2), tx.frames[0].Length)
	assert.Equal(t, byte(Backward), tx.frames[0].Data[0])
	assert.Equal(t, byte(42), tx.frames[0].Data[1])

	assert.Equal(t, uint32(0x210), tx.frames[1].ID)
	assert.Equal(t, uint8(0), tx.frames[1].Length)

	assert.Equal(t, uint32(0x220), tx.frames[2].ID)
	assert.Equal(t, byte(10), tx.frames[2].Data[0])
	assert.Equal(t, byte(90), tx.frames[2].Data[1])

	assert.NoError(t, bus.Close())
}

func TestCANBus_TransmitError(t *testing.T) {
	tx := &fakeTransmitter{err: errors.New("bus off")}
	bus := NewCANBus(tx, 0x200)

	err := bus.StopAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "0x210")
}

type bufferPort struct {
	bytes.Buffer
	closed bool
}

func (p *bufferPort) Close() error {
	p.closed = true
	return nil
}

func TestSerialBridge_Lines(t *testing.T) {
	ctx := context.Background()
	port := &bufferPort{}
	bridge := NewSerialBridge(port)

	require.NoError(t, bridge.SetWheelSpeed(ctx, WheelRightFront, Forward, 75))
	require.NoError(t, bridge.SetServoAngle(ctx, 9, 15, 0))
	require.NoError(t, bridge.StopAll(ctx))
	require.NoError(t, bridge.Close())

	lines := strings.Split(strings.TrimSpace(port.String()), "\n")
	assert.Equal(t, []string{"M 1 0 75", "V 9 15", "S"}, lines)
	assert.True(t, port.closed)
}

func TestSerialBridge_RejectsInvalid(t *testing.T) {
	port := &bufferPort{}
	bridge := NewSerialBridge(port)

	assert.Error(t, bridge.SetWheelSpeed(context.Background(), 7, Forward, 10))
	assert.Empty(t, port.String())
}

func TestFake(t *testing.T) {
	ctx := context.Background()

	t.Run("呼び出しを記録する", func(t *testing.T) {
		f := NewFake()
		require.NoError(t, f.SetWheelSpeed(ctx, 0, Forward, 10))
		require.NoError(t, f.StopAll(ctx))
		require.NoError(t, f.SetServoAngle(ctx, 10, 95, time.Second))

		calls := f.Calls()
		require.Len(t, calls, 3)
		assert.Equal(t, "wheel(0,forward,10)", calls[0].String())
		assert.Equal(t, "stop", calls[1].String())
		assert.Equal(t, "servo(10,95)", calls[2].String())
	})

	t.Run("エラーを注入できる", func(t *testing.T) {
		f := NewFake()
		boom := errors.New("boom")
		f.FailWith(boom)

		assert.ErrorIs(t, f.StopAll(ctx), boom)
		assert.Empty(t, f.Calls())

		f.FailWith(nil)
		assert.NoError(t, f.StopAll(ctx))
	})

	t.Run("遅延はコンテキストで打ち切られる", func(t *testing.T) {
		f := NewFake()
		f.SetDelay(time.Hour)

		cctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, f.StopAll(cctx), context.DeadlineExceeded)
	})
}

func TestOpen(t *testing.T) {
	t.Run("fakeドライバ", func(t *testing.T) {
		d, err := Open(context.Background(), config.DriverConfig{Kind: "fake"})
		require.NoError(t, err)
		assert.IsType(t, &Fake{}, d)
		assert.NoError(t, d.Close())
	})

	t.Run("未知の種別", func(t *testing.T) {
		_, err := Open(context.Background(), config.DriverConfig{Kind: "stepper"})
		assert.ErrorIs(t, err, ErrUnknownKind)
	})
}
