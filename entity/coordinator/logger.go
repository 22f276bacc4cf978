package coordinator

import "github.com/sirupsen/logrus"

var log = logrus.WithField("module", "coordinator")
