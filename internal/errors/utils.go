package errors

import (
	"errors"
)

// Wrap wraps an error with additional context, creating a FedError if the input is not already one
func Wrap(err error, errType ErrorType, code, message string) *FedError {
	if err == nil {
		return nil
	}

	// Keep the location and component of an inner FedError
	var fe *FedError
	if errors.As(err, &fe) {
		return &FedError{
			Type:        errType,
			Code:        code,
			Message:     message,
			Cause:       fe,
			Context:     fe.Context,
			Component:   fe.Component,
			FilePath:    fe.FilePath,
			Line:        fe.Line,
			Column:      fe.Column,
			Recoverable: fe.Recoverable,
		}
	}

	return &FedError{
		Type:        errType,
		Code:        code,
		Message:     message,
		Cause:       err,
		Recoverable: errType == ErrorTypeNetwork || errType == ErrorTypeParse || errType == ErrorTypeResolve,
	}
}

// WrapIO wraps an error as an I/O error
func WrapIO(err error, code, message string) *FedError {
	fe := Wrap(err, ErrorTypeIO, code, message)
	if fe != nil {
		fe.Recoverable = false
	}
	return fe
}

// WrapNetwork wraps an error as a recoverable network error
func WrapNetwork(err error, code, message string) *FedError {
	fe := Wrap(err, ErrorTypeNetwork, code, message)
	if fe != nil {
		fe.Recoverable = true
	}
	return fe
}

// WrapFile wraps a file operation error and records the path
func WrapFile(err error, operation, filePath string) *FedError {
	fe := WrapIO(err, "ERR_FILE_"+operation, operation+" failed")
	if fe != nil {
		fe.FilePath = filePath
		fe.WithContext("file_path", filePath)
	}
	return fe
}
