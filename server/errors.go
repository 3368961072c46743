package server

import (
	"errors"
	"fmt"
)

// 错误码：error 消息中的 code 字段，客户端据此区分错误类型
const (
	CodeRoomNotFound     = "ROOM_NOT_FOUND"
	CodeRoomFull         = "ROOM_FULL"
	CodeGameStarted      = "GAME_ALREADY_STARTED"
	CodeDuplicateRoom    = "DUPLICATE_ROOM"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeDecode           = "DECODE_ERROR"
	CodeAlreadyHosting   = "ALREADY_HOSTING"
	CodeInvalidRoomID    = "INVALID_ROOM_ID"
	CodeRoomClosed       = "ROOM_CLOSED"
	CodeSendQueueFull    = "SEND_QUEUE_FULL"
	CodeConnectionClosed = "CONNECTION_CLOSED"
)

// GameError 可恢复的业务错误，只影响触发它的连接
type GameError struct {
	Code    string
	Message string
}

func (e *GameError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Is 按错误码比较，包装后的错误仍能被 errors.Is 识别
func (e *GameError) Is(target error) bool {
	t, ok := target.(*GameError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

var (
	ErrRoomNotFound       = &GameError{Code: CodeRoomNotFound, Message: "Room not found"}
	ErrRoomFull           = &GameError{Code: CodeRoomFull, Message: "Room is full"}
	ErrGameAlreadyStarted = &GameError{Code: CodeGameStarted, Message: "Game already started"}
	ErrDuplicateRoom      = &GameError{Code: CodeDuplicateRoom, Message: "Room already exists"}
	ErrUnauthorized       = &GameError{Code: CodeUnauthorized, Message: "Only the host can do that"}
	ErrDecode             = &GameError{Code: CodeDecode, Message: "Malformed message"}
	ErrAlreadyHosting     = &GameError{Code: CodeAlreadyHosting, Message: "Already hosting a room"}
	ErrInvalidRoomID      = &GameError{Code: CodeInvalidRoomID, Message: "Invalid room id"}

	// 以下错误不直接回给客户端：房间 actor 已停止 / 发送队列异常（视同断线）
	ErrRoomClosed    = &GameError{Code: CodeRoomClosed, Message: "Room closed"}
	ErrSendQueueFull = &GameError{Code: CodeSendQueueFull, Message: "send queue full"}
	ErrConnClosed    = &GameError{Code: CodeConnectionClosed, Message: "connection closed"}
)

// clientError 把错误映射为回给客户端的 error 消息；不可回传的错误返回 nil
func clientError(err error) *ErrorMessage {
	var ge *GameError
	if !errors.As(err, &ge) {
		return nil
	}
	switch ge.Code {
	case CodeRoomClosed:
		// 房间在请求途中被销毁，对客户端等同于房间不存在
		return &ErrorMessage{Type: TypeError, Code: CodeRoomNotFound, Message: ErrRoomNotFound.Message}
	case CodeSendQueueFull, CodeConnectionClosed, CodeDecode:
		return nil
	}
	return &ErrorMessage{Type: TypeError, Code: ge.Code, Message: ge.Message}
}
