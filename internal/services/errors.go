package services

// BadRequestError reports an invalid payload.
type BadRequestError struct {
	Message string
}

func (e *BadRequestError) Error() string { return e.Message }

// UnauthorizedError reports failed authentication.
type UnauthorizedError struct {
	Message string
}

func (e *UnauthorizedError) Error() string { return e.Message }

// NotFoundError reports a missing resource.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// InternalError wraps a server-side failure.
type InternalError struct {
	Message string
}

func (e *InternalError) Error() string { return e.Message }
