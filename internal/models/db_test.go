package models

const modelsTestConfig = "../../hack/test.env"
