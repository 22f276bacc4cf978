package kinematic

import "github.com/sirupsen/logrus"

var log = logrus.WithField("module", "kinematic")
