// Package domain contains entity without logic, just meta-data
package domain

type (
	RoomID string
	ConnID string
)

const MaxRoomIDLen = 64
