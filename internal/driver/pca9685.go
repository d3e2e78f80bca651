package driver

import (
	"fmt"
	"math"
	"time"
)

// PCA9685 のレジスタ
const (
	regMode1    = 0x00
	regPrescale = 0xFE
	regLED0OnL  = 0x06

	mode1Sleep   = 0x10
	mode1Restart = 0x80

	oscillatorHz = 25_000_000.0
	pwmSteps     = 4096
	servoPeriod  = 20000 // us (50Hz)
)

// registerBus はI2Cデバイスへの書き込み・読み込み
// periph の *i2c.Dev がこれを満たす
type registerBus interface {
	Tx(w, r []byte) error
}

// PCA9685 は16チャンネルPWMコントローラ
type PCA9685 struct {
	dev   registerBus
	sleep func(time.Duration)
}

// NewPCA9685 は新しいPCA9685を作成し、MODE1を初期化する
func NewPCA9685(dev registerBus) (*PCA9685, error) {
	p := &PCA9685{dev: dev, sleep: time.Sleep}
	if err := p.write(regMode1, 0x00); err != nil {
		return nil, fmt.Errorf("PCA9685の初期化に失敗: %w", err)
	}
	return p, nil
}

func (p *PCA9685) write(reg, value byte) error {
	return p.dev.Tx([]byte{reg, value}, nil)
}

func (p *PCA9685) read(reg byte) (byte, error) {
	r := make([]byte, 1)
	if err := p.dev.Tx([]byte{reg}, r); err != nil {
		return 0, err
	}
	return r[0], nil
}

// prescale はPWM周波数からプリスケーラ値を求める
func prescale(freq int) byte {
	v := oscillatorHz/pwmSteps/float64(freq) - 1
	return byte(math.Floor(v + 0.5))
}

// SetFrequency はPWM周波数を設定する（スリープ中にプリスケーラを書き換える）
func (p *PCA9685) SetFrequency(freq int) error {
	if freq <= 0 {
		return fmt.Errorf("無効なPWM周波数: %d", freq)
	}

	old, err := p.read(regMode1)
	if err != nil {
		return fmt.Errorf("MODE1の読み込みに失敗: %w", err)
	}

	steps := []struct{ reg, value byte }{
		{regMode1, (old & 0x7F) | mode1Sleep},
		{regPrescale, prescale(freq)},
		{regMode1, old},
	}
	for _, s := range steps {
		if err := p.write(s.reg, s.value); err != nil {
			return fmt.Errorf("PWM周波数の設定に失敗: %w", err)
		}
	}

	// 発振器の安定待ち
	p.sleep(5 * time.Millisecond)
	return p.write(regMode1, old|mode1Restart)
}

// SetPWM はチャンネルのON/OFFタイミングを書き込む
func (p *PCA9685) SetPWM(channel, on, off int) error {
	if channel < 0 || channel > 15 {
		return fmt.Errorf("無効なPWMチャンネル: %d", channel)
	}

	base := byte(regLED0OnL + 4*channel)
	values := []byte{byte(on & 0xFF), byte(on >> 8), byte(off & 0xFF), byte(off >> 8)}
	for i, v := range values {
		if err := p.write(base+byte(i), v); err != nil {
			return fmt.Errorf("チャンネル %d のPWM書き込みに失敗: %w", channel, err)
		}
	}
	return nil
}

// SetDutyCycle はデューティ比 (0-100%) を設定する
func (p *PCA9685) SetDutyCycle(channel, percent int) error {
	return p.SetPWM(channel, 0, percent*pwmSteps/100)
}

// SetLevel はチャンネルを常時High/Lowにする（方向ピン用）
func (p *PCA9685) SetLevel(channel int, high bool) error {
	off := 0
	if high {
		off = pwmSteps - 1
	}
	return p.SetPWM(channel, 0, off)
}

// servoDuty は角度からサーボのOFFカウントを求める
// パルス幅は 500us + 11us/度
func servoDuty(angle int) int {
	pulseUS := angle*11 + 500
	return pwmSteps * pulseUS / servoPeriod
}

// SetServoAngle はサーボの角度を設定する
func (p *PCA9685) SetServoAngle(channel, angle int) error {
	return p.SetPWM(channel, 0, servoDuty(angle))
}
