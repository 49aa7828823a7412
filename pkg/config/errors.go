package config

import cmdqerrors "github.com/Kitware/cmd-queue/pkg/errors"

var (
	ErrMissingShell               = cmdqerrors.NewInvalidConfigurationError("shell must not be empty")
	ErrMissingSessionRoot         = cmdqerrors.NewInvalidConfigurationError("session root directory must not be empty")
	ErrInvalidRefreshRate         = cmdqerrors.NewInvalidConfigurationError("refresh rate must be positive")
	ErrInvalidOtherSessionHandler = cmdqerrors.NewInvalidConfigurationError("other_session_handler must be one of ask|kill|ignore|auto")
)
