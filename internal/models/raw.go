// Fleetsight - Fleet Tracking Platform Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetsight

/*
raw.go - External Tracking Platform Payloads

These structs mirror the wire shapes returned by the tracking platform's
query endpoints. Required vs optional fields are made explicit with
validator tags; records failing validation are logged and skipped rather
than propagated through the sync pipeline.
*/

package models

import "time"

// RawVehicle is one device row from the platform's vehicle-list query.
type RawVehicle struct {
	DeviceID   string `json:"deviceid" validate:"required"`
	DeviceName string `json:"devicename"`
	DeviceType string `json:"devicetype"`
	SimNumber  string `json:"simnum"`
	GroupName  string `json:"groupname"`
	Remark     string `json:"remark"`
}

// RawPosition is one device fix from the platform's last-position query.
// Timestamps are epoch milliseconds, the platform's native representation.
type RawPosition struct {
	DeviceID   string  `json:"deviceid" validate:"required"`
	Latitude   float64 `json:"callat" validate:"gte=-90,lte=90"`
	Longitude  float64 `json:"callon" validate:"gte=-180,lte=180"`
	Speed      float64 `json:"speed" validate:"gte=0"`
	Course     float64 `json:"course" validate:"gte=0,lt=360"`
	UpdateTime int64   `json:"updatetime"`
	ServerTime int64   `json:"servertime"`
	StatusText string  `json:"strstatus"`
}

// Timestamp returns the fix's server timestamp, preferring servertime and
// falling back to updatetime. Zero time when the platform sent neither.
func (p *RawPosition) Timestamp() time.Time {
	switch {
	case p.ServerTime > 0:
		return time.UnixMilli(p.ServerTime)
	case p.UpdateTime > 0:
		return time.UnixMilli(p.UpdateTime)
	default:
		return time.Time{}
	}
}

// Position converts the raw fix into the internal Position model.
func (p *RawPosition) Position() *Position {
	return &Position{
		Latitude:   p.Latitude,
		Longitude:  p.Longitude,
		Speed:      p.Speed,
		Course:     p.Course,
		UpdateTime: p.Timestamp(),
		StatusText: p.StatusText,
	}
}
