package domain

import (
	"context"
	"errors"
)

// Dataset names one elementary file of the eGK that the CardLink flow reads.
type Dataset int

const (
	DatasetGDO Dataset = iota + 1
	DatasetVersion2
	DatasetATR
	DatasetCVCAuth
	DatasetCVCCA
	DatasetX509AuthECC
	DatasetPersonalData
	DatasetInsurerData
)

func (d Dataset) String() string {
	switch d {
	case DatasetGDO:
		return "EF.GDO"
	case DatasetVersion2:
		return "EF.Version2"
	case DatasetATR:
		return "EF.ATR"
	case DatasetCVCAuth:
		return "EF.C.eGK.AUT_CVC.E256"
	case DatasetCVCCA:
		return "EF.C.CA_eGK.CS.E256"
	case DatasetX509AuthECC:
		return "EF.C.CH.AUT.E256"
	case DatasetPersonalData:
		return "EF.PD"
	case DatasetInsurerData:
		return "EF.VD"
	default:
		return "unknown"
	}
}

// Failures reported by a CardStack or CardConnection implementation.
var (
	ErrStackMissing      = errors.New("card: smartcard stack not available")
	ErrReaderUnavailable = errors.New("card: reader unavailable")
	ErrDeviceUnavailable = errors.New("card: card removed or connection lost")
	ErrDeviceUnsupported = errors.New("card: card not supported")
	ErrPace              = errors.New("card: PACE channel establishment failed")
	ErrPaceUnsupported   = errors.New("card: reader does not support PACE")
	ErrSecureMessaging   = errors.New("card: secure messaging failure")
)

// CardStack discovers terminals and hands out card connections.
type CardStack interface {
	Terminals(ctx context.Context) ([]string, error)
	WaitForCard(ctx context.Context, terminal string) error
	Connect(ctx context.Context, terminal string) (CardConnection, error)
}

// CardConnection is an open session with one eGK.
type CardConnection interface {
	AuthenticateCAN(ctx context.Context, can string) error
	ReadDataset(ctx context.Context, ds Dataset) ([]byte, error)
	Transmit(ctx context.Context, apdu []byte) ([]byte, error)
	Close() error
}
